// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKey(t *testing.T) {
	tests := []struct {
		name      string
		featureID string
		chatID    string
		wantErr   bool
	}{
		{name: "valid", featureID: "test", chatID: "chat-1"},
		{name: "empty feature", featureID: "", chatID: "chat-1", wantErr: true},
		{name: "empty chat", featureID: "test", chatID: "", wantErr: true},
		{name: "separator in chat", featureID: "test", chatID: "a:b", wantErr: true},
		{name: "whitespace in feature", featureID: "te st", chatID: "c", wantErr: true},
		{name: "too long", featureID: strings.Repeat("f", maxPartLen+1), chatID: "c", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := NewKey(tt.featureID, tt.chatID)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidKey)
				assert.True(t, k.IsZero())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.featureID, k.FeatureID())
			assert.Equal(t, tt.chatID, k.ChatID())
		})
	}
}

func TestKeyNaming(t *testing.T) {
	k := MustKey("test", "chat-1")
	assert.Equal(t, "stream:test:chat-1", k.StreamName())
	assert.Equal(t, "test:chat-1", k.String())

	parsed, err := ParseKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)

	_, err = ParseKey("nocolon")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestEntryEncoding(t *testing.T) {
	data, err := Marker().Encode()
	require.NoError(t, err)
	assert.Equal(t, DoneSentinel, data)

	ev := Event{
		ID:          7,
		FeatureID:   "test",
		ChatID:      "chat-1",
		Message:     "Message 7 from feature test, chat chat-1",
		Timestamp:   time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		ContainerID: "pod-a",
	}
	data, err = EventEntry(ev).Encode()
	require.NoError(t, err)
	assert.Contains(t, data, `"feature_id":"test"`)
	assert.Contains(t, data, `"container_id":"pod-a"`)

	back, err := DecodeEntry(data)
	require.NoError(t, err)
	assert.False(t, back.Done)
	assert.Equal(t, ev, back.Event)

	done, err := DecodeEntry(DoneSentinel)
	require.NoError(t, err)
	assert.True(t, done.Done)

	_, err = DecodeEntry("{not json")
	assert.Error(t, err)
}
