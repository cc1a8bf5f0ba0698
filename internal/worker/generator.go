// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package worker

import (
	"fmt"
	"time"

	"github.com/ManuGH/genstream/internal/session"
)

// Generator builds the event with sequence id for a session.
type Generator interface {
	Generate(key session.Key, id uint64, now time.Time) session.Event
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(key session.Key, id uint64, now time.Time) session.Event

func (f GeneratorFunc) Generate(key session.Key, id uint64, now time.Time) session.Event {
	return f(key, id, now)
}

// MessageGenerator produces the canned numbered messages.
type MessageGenerator struct {
	// ProducerID identifies the process (container) that generated an event.
	ProducerID string
	// FeatureID is the feature the producing process is deployed for.
	FeatureID string
	// Worker names the execution engine.
	Worker string
}

func (g MessageGenerator) Generate(key session.Key, id uint64, now time.Time) session.Event {
	return session.Event{
		ID:                 id,
		FeatureID:          key.FeatureID(),
		ChatID:             key.ChatID(),
		Message:            fmt.Sprintf("Message %d from feature %s, chat %s", id, key.FeatureID(), key.ChatID()),
		Timestamp:          now,
		ContainerID:        g.ProducerID,
		ContainerFeatureID: g.FeatureID,
		Worker:             g.Worker,
	}
}
