package history

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Mutter0815/OABroadcast/internal/kv"
	"github.com/Mutter0815/OABroadcast/internal/recipient"
)

// MaxItems caps the stored history.
const MaxItems = 50

const key = "userHistory"

var ErrNotFound = errors.New("history item not found")

type Item struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Code        string    `json:"code"`
	SentAt      time.Time `json:"sent_at"`
}

// ledger is the cooldown surface history deletions have to keep in step.
type ledger interface {
	Remove(ctx context.Context, ids ...string) error
	Clear(ctx context.Context) error
}

// Book is the list of customers messaged successfully, newest first.
type Book struct {
	mu     sync.Mutex
	s      kv.Store
	ledger ledger
}

func New(s kv.Store, l ledger) *Book {
	return &Book{s: s, ledger: l}
}

func (b *Book) load(ctx context.Context) ([]Item, error) {
	var items []Item
	err := kv.GetJSON(ctx, b.s, key, &items)
	if errors.Is(err, kv.ErrNotFound) {
		return []Item{}, nil
	}
	return items, err
}

func (b *Book) save(ctx context.Context, items []Item) error {
	return kv.SetJSON(ctx, b.s, key, items)
}

// Record stores a fresh item for r, replacing any older one for the same
// recipient.
func (b *Book) Record(ctx context.Context, r recipient.Recipient, code string, now time.Time) (Item, error) {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		name = recipient.NoName
	}
	it := Item{
		ID:          r.ID + "_" + strconv.FormatInt(now.UnixMilli(), 10),
		RecipientID: r.ID,
		DisplayName: name,
		Code:        code,
		SentAt:      now,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	items, err := b.load(ctx)
	if err != nil {
		return Item{}, err
	}
	out := make([]Item, 0, MaxItems)
	out = append(out, it)
	for _, old := range items {
		if len(out) == MaxItems {
			break
		}
		if old.RecipientID != r.ID {
			out = append(out, old)
		}
	}
	if err := b.save(ctx, out); err != nil {
		return Item{}, err
	}
	return it, nil
}

func (b *Book) List(ctx context.Context) ([]Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.load(ctx)
}

// DeleteOne removes the item and re-enables sending to its recipient.
func (b *Book) DeleteOne(ctx context.Context, id string) error {
	n, err := b.delete(ctx, []string{id})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMany ignores unknown ids and reports how many items were removed.
func (b *Book) DeleteMany(ctx context.Context, ids []string) (int, error) {
	return b.delete(ctx, ids)
}

func (b *Book) delete(ctx context.Context, ids []string) (int, error) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	items, err := b.load(ctx)
	if err != nil {
		return 0, err
	}
	keep := items[:0]
	var affected []string
	for _, it := range items {
		if _, ok := drop[it.ID]; ok {
			affected = append(affected, it.RecipientID)
			continue
		}
		keep = append(keep, it)
	}
	if len(affected) == 0 {
		return 0, nil
	}
	if err := b.save(ctx, keep); err != nil {
		return 0, err
	}
	if err := b.ledger.Remove(ctx, affected...); err != nil {
		return 0, err
	}
	return len(affected), nil
}

// ClearAll empties the history and the whole cooldown ledger with it,
// including entries for recipients that never made it into history.
func (b *Book) ClearAll(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.s.Delete(ctx, key); err != nil {
		return err
	}
	return b.ledger.Clear(ctx)
}
