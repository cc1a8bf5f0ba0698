// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// DoneSentinel terminates every completed log and every relayed stream.
const DoneSentinel = "[DONE]"

// Event is one generated message. Field names follow the wire format consumed by clients.
type Event struct {
	ID                 uint64    `json:"id"`
	FeatureID          string    `json:"feature_id"`
	ChatID             string    `json:"chat_id"`
	Message            string    `json:"message"`
	Timestamp          time.Time `json:"timestamp"`
	ContainerID        string    `json:"container_id"`
	ContainerFeatureID string    `json:"container_feature_id,omitempty"`
	Worker             string    `json:"worker,omitempty"`
}

// Key returns the session the event belongs to.
func (e Event) Key() (Key, error) {
	return NewKey(e.FeatureID, e.ChatID)
}

// Entry is one record of an event log: either an Event or the completion marker.
type Entry struct {
	Event Event
	Done  bool
}

// Marker returns the completion entry.
func Marker() Entry { return Entry{Done: true} }

// EventEntry wraps e as a log entry.
func EventEntry(e Event) Entry { return Entry{Event: e} }

// Encode renders the stored form: the marker sentinel or the event JSON.
func (e Entry) Encode() (string, error) {
	if e.Done {
		return DoneSentinel, nil
	}
	b, err := json.Marshal(e.Event)
	if err != nil {
		return "", fmt.Errorf("encode event %d: %w", e.Event.ID, err)
	}
	return string(b), nil
}

// DecodeEntry parses the stored form written by Encode.
func DecodeEntry(data string) (Entry, error) {
	if data == DoneSentinel {
		return Marker(), nil
	}
	var ev Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return Entry{}, fmt.Errorf("decode entry: %w", err)
	}
	return EventEntry(ev), nil
}
