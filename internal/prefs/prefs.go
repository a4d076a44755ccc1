package prefs

import (
	"context"
	"errors"
	"strings"

	"github.com/Mutter0815/OABroadcast/internal/kv"
)

const (
	keyToken       = "zalo_access_token"
	keySelfID      = "self_user_id"
	keyAttachments = "attachmentHistory"
	keyCurrent     = "currentAttachment"

	// MaxRecentAttachments bounds the attachment history.
	MaxRecentAttachments = 3
)

// Prefs is the operator's persisted settings.
type Prefs struct {
	s kv.Store
}

func New(s kv.Store) *Prefs { return &Prefs{s: s} }

func (p *Prefs) getString(ctx context.Context, key string) (string, error) {
	v, err := p.s.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	return v, err
}

func (p *Prefs) setString(ctx context.Context, key, v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return p.s.Delete(ctx, key)
	}
	return p.s.Set(ctx, key, v)
}

// Token returns the stored access token, or "" when none is set.
func (p *Prefs) Token(ctx context.Context) (string, error) { return p.getString(ctx, keyToken) }

func (p *Prefs) SetToken(ctx context.Context, tok string) error {
	return p.setString(ctx, keyToken, tok)
}

func (p *Prefs) SelfID(ctx context.Context) (string, error) { return p.getString(ctx, keySelfID) }

func (p *Prefs) SetSelfID(ctx context.Context, id string) error {
	return p.setString(ctx, keySelfID, id)
}

func (p *Prefs) CurrentAttachment(ctx context.Context) (string, error) {
	return p.getString(ctx, keyCurrent)
}

func (p *Prefs) SetCurrentAttachment(ctx context.Context, id string) error {
	return p.setString(ctx, keyCurrent, id)
}

// RecentAttachments is newest first.
func (p *Prefs) RecentAttachments(ctx context.Context) ([]string, error) {
	var ids []string
	err := kv.GetJSON(ctx, p.s, keyAttachments, &ids)
	if errors.Is(err, kv.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// PushAttachment moves id to the front of the recent list and selects it.
func (p *Prefs) PushAttachment(ctx context.Context, id string) ([]string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("attachment id is empty")
	}
	prev, err := p.RecentAttachments(ctx)
	if err != nil {
		return nil, err
	}

	next := make([]string, 0, MaxRecentAttachments)
	next = append(next, id)
	for _, v := range prev {
		if len(next) == MaxRecentAttachments {
			break
		}
		if v != id {
			next = append(next, v)
		}
	}
	if err := kv.SetJSON(ctx, p.s, keyAttachments, next); err != nil {
		return nil, err
	}
	if err := p.SetCurrentAttachment(ctx, id); err != nil {
		return nil, err
	}
	return next, nil
}
