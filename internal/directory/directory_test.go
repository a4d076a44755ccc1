package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mutter0815/OABroadcast/internal/gateway"
	"github.com/Mutter0815/OABroadcast/internal/recipient"
)

type fakeGateway struct {
	page        gateway.UserPage
	listErr     error
	details     map[string]gateway.UserDetail
	detailCalls map[string]int
}

func (f *fakeGateway) ListUsers(_ context.Context, _ string, _ gateway.ListQuery) (gateway.UserPage, error) {
	return f.page, f.listErr
}

func (f *fakeGateway) UserDetail(_ context.Context, _ string, id string) (gateway.UserDetail, error) {
	if f.detailCalls == nil {
		f.detailCalls = map[string]int{}
	}
	f.detailCalls[id]++
	d, ok := f.details[id]
	if !ok {
		return gateway.UserDetail{}, &gateway.APIError{Code: -201, Message: "user not found"}
	}
	return d, nil
}

var q = gateway.ListQuery{Count: 50, Period: gateway.PeriodToday, IsFollower: true}

func TestFetch_ResolvesAndFallsBack(t *testing.T) {
	gw := &fakeGateway{
		page: gateway.UserPage{Total: 7, Users: []gateway.UserRef{{UserID: "u1"}, {UserID: "u2"}, {UserID: "u3"}}},
		details: map[string]gateway.UserDetail{
			"u1": {UserID: "u1", DisplayName: "Ana", Avatar: "a.png"},
			"u3": {UserID: "u3"},
		},
	}
	f := NewFetcher(gw)

	rs, total, err := f.Fetch(context.Background(), "tok", q)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	assert.Equal(t, []recipient.Recipient{
		{ID: "u1", Name: "Ana", Avatar: "a.png"},
		{ID: "u2", Name: recipient.NoName},
		{ID: "u3", Name: recipient.NoName},
	}, rs)
}

func TestFetch_CachesDetails(t *testing.T) {
	gw := &fakeGateway{
		page:    gateway.UserPage{Users: []gateway.UserRef{{UserID: "u1"}, {UserID: "u2"}}},
		details: map[string]gateway.UserDetail{"u1": {DisplayName: "Ana"}},
	}
	f := NewFetcher(gw)
	for i := 0; i < 2; i++ {
		_, _, err := f.Fetch(context.Background(), "tok", q)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, gw.detailCalls["u1"])
	// failures are not cached
	assert.Equal(t, 2, gw.detailCalls["u2"])

	f.Forget()
	_, _, _ = f.Fetch(context.Background(), "tok", q)
	assert.Equal(t, 2, gw.detailCalls["u1"])
}

func TestFetch_ListErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	f := NewFetcher(&fakeGateway{listErr: boom})
	_, _, err := f.Fetch(context.Background(), "tok", q)
	assert.ErrorIs(t, err, boom)
}
