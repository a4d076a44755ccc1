package directory

import (
	"context"
	"time"

	ca "github.com/patrickmn/go-cache"

	"github.com/Mutter0815/OABroadcast/internal/gateway"
	"github.com/Mutter0815/OABroadcast/internal/recipient"
	"github.com/Mutter0815/OABroadcast/pkg/logx"
)

const (
	DetailTTL     = 10 * time.Minute
	cleanupPeriod = 20 * time.Minute
)

type gatewayAPI interface {
	ListUsers(ctx context.Context, token string, q gateway.ListQuery) (gateway.UserPage, error)
	UserDetail(ctx context.Context, token, userID string) (gateway.UserDetail, error)
}

// Fetcher turns a follower page into recipients with display names.
type Fetcher struct {
	gw    gatewayAPI
	cache *ca.Cache
}

func NewFetcher(gw gatewayAPI) *Fetcher {
	return &Fetcher{gw: gw, cache: ca.New(DetailTTL, cleanupPeriod)}
}

// Fetch lists one page and resolves every user's detail in order. A failed
// detail lookup does not fail the page; the user gets recipient.NoName.
func (f *Fetcher) Fetch(ctx context.Context, token string, q gateway.ListQuery) ([]recipient.Recipient, int, error) {
	page, err := f.gw.ListUsers(ctx, token, q)
	if err != nil {
		return nil, 0, err
	}

	out := make([]recipient.Recipient, 0, len(page.Users))
	for _, u := range page.Users {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		out = append(out, f.resolve(ctx, token, u.UserID))
	}
	logx.L().Infow("directory_fetched", "listed", len(page.Users), "total", page.Total)
	return out, page.Total, nil
}

func (f *Fetcher) resolve(ctx context.Context, token, id string) recipient.Recipient {
	if v, ok := f.cache.Get(id); ok {
		return v.(recipient.Recipient)
	}

	r := recipient.Recipient{ID: id, Name: recipient.NoName}
	d, err := f.gw.UserDetail(ctx, token, id)
	if err != nil {
		logx.L().Warnw("user_detail_failed", "user_id", id, "err", err)
		return r
	}
	if d.DisplayName != "" {
		r.Name = d.DisplayName
	}
	r.Avatar = d.Avatar
	f.cache.SetDefault(id, r)
	return r
}

// Forget drops cached details, e.g. after the token changes.
func (f *Fetcher) Forget() { f.cache.Flush() }
