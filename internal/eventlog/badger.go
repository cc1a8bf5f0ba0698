// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package eventlog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/ManuGH/genstream/internal/metrics"
	"github.com/ManuGH/genstream/internal/session"
)

// BadgerStore keeps logs in an embedded Badger database for single-node
// deployments. Blocking reads are served by an in-process notifier, so all
// readers and the writer must share one BadgerStore.
//
// Layout:
//   - meta:<stream>                 generation, entry count, expiry
//   - log:<stream>:<gen><position>  encoded entry (big-endian suffix)
//
// Both carry a Badger TTL; the stored expiry is authoritative because Badger
// expires with one-second granularity.
type BadgerStore struct {
	db   *badger.DB
	ttl  time.Duration
	wake *notifier
}

type badgerMeta struct {
	gen       uint64
	count     uint64
	expiresAt time.Time
}

// OpenBadgerStore opens (or creates) a database under path. An empty path
// runs Badger fully in memory.
func OpenBadgerStore(path string, ttl time.Duration, logger zerolog.Logger) (*BadgerStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{l: logger})
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &BadgerStore{db: db, ttl: ttl, wake: newNotifier()}, nil
}

func metaKey(name string) []byte { return []byte("meta:" + name) }

func entryPrefix(name string, gen uint64) []byte {
	p := make([]byte, 0, len(name)+13)
	p = append(p, "log:"...)
	p = append(p, name...)
	p = append(p, ':')
	return binary.BigEndian.AppendUint64(p, gen)
}

func entryKey(name string, gen, pos uint64) []byte {
	return binary.BigEndian.AppendUint64(entryPrefix(name, gen), pos)
}

func (m badgerMeta) encode() []byte {
	b := make([]byte, 0, 24)
	b = binary.BigEndian.AppendUint64(b, m.gen)
	b = binary.BigEndian.AppendUint64(b, m.count)
	return binary.BigEndian.AppendUint64(b, uint64(m.expiresAt.UnixNano()))
}

func decodeBadgerMeta(b []byte) (badgerMeta, error) {
	if len(b) != 24 {
		return badgerMeta{}, fmt.Errorf("meta record has %d bytes", len(b))
	}
	return badgerMeta{
		gen:       binary.BigEndian.Uint64(b[0:8]),
		count:     binary.BigEndian.Uint64(b[8:16]),
		expiresAt: time.Unix(0, int64(binary.BigEndian.Uint64(b[16:24]))),
	}, nil
}

// readMeta treats a record past its stored expiry as absent.
func readMeta(txn *badger.Txn, name string, now time.Time) (badgerMeta, bool, error) {
	item, err := txn.Get(metaKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return badgerMeta{}, false, nil
	}
	if err != nil {
		return badgerMeta{}, false, err
	}
	var m badgerMeta
	if err := item.Value(func(val []byte) error {
		var err error
		m, err = decodeBadgerMeta(val)
		return err
	}); err != nil {
		return badgerMeta{}, false, err
	}
	if !now.Before(m.expiresAt) {
		return badgerMeta{}, false, nil
	}
	return m, true, nil
}

func expiringEntry(key, val []byte, expiresAt time.Time) *badger.Entry {
	e := badger.NewEntry(key, val)
	// Round up so Badger never drops a record before the stored expiry.
	e.ExpiresAt = uint64(expiresAt.Unix()) + 1
	return e
}

func (s *BadgerStore) Append(ctx context.Context, key session.Key, entry session.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := entry.Encode()
	if err != nil {
		return err
	}
	name := key.StreamName()
	now := time.Now()

	err = s.db.Update(func(txn *badger.Txn) error {
		m, ok, err := readMeta(txn, name, now)
		if err != nil {
			return err
		}
		if !ok {
			m = badgerMeta{gen: uint64(now.UnixNano()), expiresAt: now.Add(s.ttl)}
		}
		if err := txn.SetEntry(expiringEntry(entryKey(name, m.gen, m.count), []byte(data), m.expiresAt)); err != nil {
			return err
		}
		m.count++
		return txn.SetEntry(expiringEntry(metaKey(name), m.encode(), m.expiresAt))
	})
	if err != nil {
		metrics.RecordLogAppend(BackendBadger, "error")
		return fmt.Errorf("%w: append %s: %w", ErrLogUnavailable, name, err)
	}
	s.wake.broadcast(name)
	metrics.RecordLogAppend(BackendBadger, "ok")
	return nil
}

func (s *BadgerStore) TailRead(ctx context.Context, key session.Key, after Cursor, deadline time.Time) ([]session.Entry, Cursor, error) {
	entries, next, err := s.tailRead(ctx, key, after, deadline)
	metrics.RecordLogRead(BackendBadger, resultLabel(err), len(entries))
	return entries, next, err
}

func (s *BadgerStore) tailRead(ctx context.Context, key session.Key, after Cursor, deadline time.Time) ([]session.Entry, Cursor, error) {
	name := key.StreamName()
	gen, pos, err := parseBadgerCursor(after)
	if err != nil {
		return nil, after, err
	}

	for {
		wake := s.wake.wait(name)

		var (
			out     []session.Entry
			next    = after
			expired bool
			until   = deadline
		)
		err := s.db.View(func(txn *badger.Txn) error {
			m, ok, err := readMeta(txn, name, time.Now())
			if err != nil {
				return err
			}
			if after != Start && (!ok || m.gen != gen) {
				expired = true
				return nil
			}
			if !ok {
				return nil
			}
			if m.expiresAt.Before(until) {
				until = m.expiresAt
			}
			from := pos
			if after == Start {
				from = 0
			}
			if from > m.count {
				return fmt.Errorf("%w: position %d beyond tail", ErrInvalidCursor, from)
			}
			if from == m.count {
				return nil
			}

			prefix := entryPrefix(name, m.gen)
			it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 32, Prefix: prefix})
			defer it.Close()
			for it.Seek(entryKey(name, m.gen, from)); it.ValidForPrefix(prefix); it.Next() {
				item := it.Item()
				p := binary.BigEndian.Uint64(item.Key()[len(prefix):])
				if p >= m.count {
					break
				}
				if err := item.Value(func(val []byte) error {
					e, err := session.DecodeEntry(string(val))
					if err != nil {
						return err
					}
					out = append(out, e)
					return nil
				}); err != nil {
					return err
				}
				next = formatBadgerCursor(m.gen, p+1)
			}
			return nil
		})
		switch {
		case errors.Is(err, ErrInvalidCursor):
			return nil, after, err
		case err != nil:
			return nil, after, fmt.Errorf("%w: read %s: %w", ErrLogUnavailable, name, err)
		case expired:
			return nil, after, fmt.Errorf("%w: %s expired", ErrLogUnavailable, name)
		case len(out) > 0:
			return out, next, nil
		}

		if !time.Now().Before(deadline) {
			return nil, after, ErrReadTimeout
		}
		if err := sleepUntil(ctx, wake, until); err != nil {
			return nil, after, err
		}
	}
}

func (s *BadgerStore) Exists(ctx context.Context, key session.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var exists bool
	err := s.db.View(func(txn *badger.Txn) error {
		m, ok, err := readMeta(txn, key.StreamName(), time.Now())
		exists = ok && m.count > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("%w: exists %s: %w", ErrLogUnavailable, key.StreamName(), err)
	}
	return exists, nil
}

func (s *BadgerStore) Last(ctx context.Context, key session.Key) (session.Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return session.Entry{}, false, err
	}
	name := key.StreamName()
	var (
		entry session.Entry
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		m, ok, err := readMeta(txn, name, time.Now())
		if err != nil || !ok || m.count == 0 {
			return err
		}
		item, err := txn.Get(entryKey(name, m.gen, m.count-1))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			entry, err = session.DecodeEntry(string(val))
			found = err == nil
			return err
		})
	})
	if err != nil {
		return session.Entry{}, false, fmt.Errorf("%w: last %s: %w", ErrLogUnavailable, name, err)
	}
	return entry, found, nil
}

// RunGC reclaims value log space until ctx is done.
func (s *BadgerStore) RunGC(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for s.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

// Close wakes blocked readers and closes the database.
func (s *BadgerStore) Close() error {
	s.wake.closeAll()
	return s.db.Close()
}

func formatBadgerCursor(gen, pos uint64) Cursor {
	return Cursor(strconv.FormatUint(gen, 10) + "-" + strconv.FormatUint(pos, 10))
}

func parseBadgerCursor(c Cursor) (uint64, uint64, error) {
	if c == Start {
		return 0, 0, nil
	}
	g, p, ok := strings.Cut(string(c), "-")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidCursor, c)
	}
	gen, err1 := strconv.ParseUint(g, 10, 64)
	pos, err2 := strconv.ParseUint(p, 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidCursor, c)
	}
	return gen, pos, nil
}

// badgerLogger routes Badger's internal logging through zerolog.
type badgerLogger struct {
	l zerolog.Logger
}

func (b badgerLogger) Errorf(f string, v ...any)   { b.l.Error().Msgf(strings.TrimSpace(f), v...) }
func (b badgerLogger) Warningf(f string, v ...any) { b.l.Warn().Msgf(strings.TrimSpace(f), v...) }
func (b badgerLogger) Infof(f string, v ...any)    { b.l.Debug().Msgf(strings.TrimSpace(f), v...) }
func (b badgerLogger) Debugf(f string, v ...any)   { b.l.Trace().Msgf(strings.TrimSpace(f), v...) }
