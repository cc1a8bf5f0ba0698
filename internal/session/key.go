// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package session holds the identifiers and records shared by the gateway,
// the task queue, the worker and the event log.
package session

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidKey is returned when a feature or chat identifier cannot address a log.
var ErrInvalidKey = errors.New("invalid session key")

const (
	streamPrefix = "stream"
	maxPartLen   = 128
)

// Key addresses one event log and at most one in-flight generation task.
// The zero value is not a valid key; construct with NewKey.
type Key struct {
	featureID string
	chatID    string
}

// NewKey validates both parts and returns an immutable key.
func NewKey(featureID, chatID string) (Key, error) {
	if err := validatePart("feature_id", featureID); err != nil {
		return Key{}, err
	}
	if err := validatePart("chat_id", chatID); err != nil {
		return Key{}, err
	}
	return Key{featureID: featureID, chatID: chatID}, nil
}

// MustKey is NewKey for constants and tests.
func MustKey(featureID, chatID string) Key {
	k, err := NewKey(featureID, chatID)
	if err != nil {
		panic(err)
	}
	return k
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	featureID, chatID, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, fmt.Errorf("%w: %q has no separator", ErrInvalidKey, s)
	}
	return NewKey(featureID, chatID)
}

func validatePart(name, v string) error {
	switch {
	case v == "":
		return fmt.Errorf("%w: %s is empty", ErrInvalidKey, name)
	case len(v) > maxPartLen:
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidKey, name, maxPartLen)
	case strings.ContainsAny(v, ": \t\r\n"):
		return fmt.Errorf("%w: %s contains a separator or whitespace", ErrInvalidKey, name)
	}
	return nil
}

func (k Key) FeatureID() string { return k.featureID }
func (k Key) ChatID() string    { return k.chatID }

// IsZero reports whether k was never constructed.
func (k Key) IsZero() bool { return k.featureID == "" && k.chatID == "" }

// String renders "featureId:chatId". It doubles as the task idempotency key.
func (k Key) String() string { return k.featureID + ":" + k.chatID }

// StreamName is the storage name of the session's event log.
func (k Key) StreamName() string {
	return streamPrefix + ":" + k.featureID + ":" + k.chatID
}
