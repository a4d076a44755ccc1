package recipient

import (
	"errors"
	"strings"
	"sync"
)

// NoName is shown when the directory cannot resolve a display name.
const NoName = "Không có tên"

var ErrNotFound = errors.New("recipient not found")

type Recipient struct {
	ID     string `json:"user_id"`
	Name   string `json:"display_name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Code   string `json:"code,omitempty"`
}

// List is the operator's working set of recipients, in arrival order.
type List struct {
	mu    sync.RWMutex
	items []Recipient
}

func NewList() *List { return &List{} }

// Replace swaps in a new working set. Blank ids are dropped and the first
// occurrence of a duplicated id wins. It returns how many were kept.
func (l *List) Replace(rs []Recipient) int {
	seen := make(map[string]struct{}, len(rs))
	out := make([]Recipient, 0, len(rs))
	for _, r := range rs {
		r.ID = strings.TrimSpace(r.ID)
		if r.ID == "" {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}

	l.mu.Lock()
	l.items = out
	l.mu.Unlock()
	return len(out)
}

func (l *List) All() []Recipient {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Recipient, len(l.items))
	copy(out, l.items)
	return out
}

func (l *List) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, len(l.items))
	for i, r := range l.items {
		ids[i] = r.ID
	}
	return ids
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

func (l *List) Get(id string) (Recipient, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, r := range l.items {
		if r.ID == id {
			return r, true
		}
	}
	return Recipient{}, false
}

func (l *List) SetCode(id, code string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.items {
		if l.items[i].ID == id {
			l.items[i].Code = code
			return nil
		}
	}
	return ErrNotFound
}

func (l *List) Remove(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.items {
		if l.items[i].ID == id {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}
