// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package eventlog

import (
	"context"
	"sync"
	"time"
)

// notifier wakes readers blocked on a log name. Each name has at most one
// open channel; broadcast closes it so every waiter observes the change.
type notifier struct {
	mu    sync.Mutex
	chans map[string]chan struct{}
}

func newNotifier() *notifier {
	return &notifier{chans: make(map[string]chan struct{})}
}

// wait must be called before inspecting the log, otherwise a broadcast
// between the inspection and the wait is lost.
func (n *notifier) wait(name string) <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch, ok := n.chans[name]
	if !ok {
		ch = make(chan struct{})
		n.chans[name] = ch
	}
	return ch
}

func (n *notifier) broadcast(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ch, ok := n.chans[name]; ok {
		close(ch)
		delete(n.chans, name)
	}
}

func (n *notifier) closeAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for name, ch := range n.chans {
		close(ch)
		delete(n.chans, name)
	}
}

// sleepUntil blocks until wake fires or until is reached. It returns the
// context error when ctx ends first.
func sleepUntil(ctx context.Context, wake <-chan struct{}, until time.Time) error {
	d := time.Until(until)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
	case <-t.C:
	}
	return nil
}
