package cooldown

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Mutter0815/OABroadcast/internal/kv"
)

// Window is the minimum interval between two non-self sends to one recipient.
const Window = 60 * time.Minute

const key = "message_history"

type Entry struct {
	RecipientID string    `json:"user_id"`
	SentAt      time.Time `json:"sent_at"`
}

// stored form keeps millisecond timestamps.
type record struct {
	RecipientID string `json:"user_id"`
	Timestamp   int64  `json:"timestamp"`
}

// Ledger remembers the last successful send per recipient. Entries never
// expire on their own; only Remove and Clear drop them.
type Ledger struct {
	mu sync.Mutex
	s  kv.Store
}

func New(s kv.Store) *Ledger { return &Ledger{s: s} }

func (l *Ledger) load(ctx context.Context) ([]record, error) {
	var rs []record
	err := kv.GetJSON(ctx, l.s, key, &rs)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	return rs, err
}

func (l *Ledger) save(ctx context.Context, rs []record) error {
	if rs == nil {
		rs = []record{}
	}
	return kv.SetJSON(ctx, l.s, key, rs)
}

// IsBlocked reports whether id was sent to less than Window before now.
func (l *Ledger) IsBlocked(ctx context.Context, id string, now time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rs, err := l.load(ctx)
	if err != nil {
		return false, err
	}
	for _, r := range rs {
		if r.RecipientID == id && now.Sub(time.UnixMilli(r.Timestamp)) < Window {
			return true, nil
		}
	}
	return false, nil
}

// Record sets the last-send time for id, replacing any earlier entry.
func (l *Ledger) Record(ctx context.Context, id string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rs, err := l.load(ctx)
	if err != nil {
		return err
	}
	out := rs[:0]
	for _, r := range rs {
		if r.RecipientID != id {
			out = append(out, r)
		}
	}
	out = append(out, record{RecipientID: id, Timestamp: now.UnixMilli()})
	return l.save(ctx, out)
}

func (l *Ledger) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rs, err := l.load(ctx)
	if err != nil {
		return err
	}
	out := rs[:0]
	for _, r := range rs {
		if _, ok := drop[r.RecipientID]; !ok {
			out = append(out, r)
		}
	}
	return l.save(ctx, out)
}

func (l *Ledger) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s.Delete(ctx, key)
}

func (l *Ledger) Entries(ctx context.Context) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rs, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(rs))
	for i, r := range rs {
		out[i] = Entry{RecipientID: r.RecipientID, SentAt: time.UnixMilli(r.Timestamp)}
	}
	return out, nil
}
