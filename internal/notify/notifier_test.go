package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/roster/internal/events"
)

func TestWebhookNotifierPostsChange(t *testing.T) {
	var got events.RosterChanged
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL+"/", "secret", time.Second)
	err := n.Notify(context.Background(), events.RosterChanged{Activity: "Art Club", Participant: "emily@mergington.edu", Change: "enrolled"})
	require.NoError(t, err)
	require.Equal(t, "Bearer secret", auth)
	require.Equal(t, "Art Club", got.Activity)
}

func TestWebhookNotifierReportsFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, "", time.Second).Notify(context.Background(), events.RosterChanged{})
	var deliveryErr *DeliveryError
	require.True(t, errors.As(err, &deliveryErr))
	require.Equal(t, http.StatusBadGateway, deliveryErr.Status)
}

type countingNotifier struct {
	calls int
	err   error
}

func (c *countingNotifier) Notify(context.Context, events.RosterChanged) error {
	c.calls++
	return c.err
}

func TestFanoutCallsEveryNotifier(t *testing.T) {
	failing := &countingNotifier{err: errors.New("redis down")}
	ok := &countingNotifier{}

	err := Fanout{failing, ok, NoopNotifier{}}.Notify(context.Background(), events.RosterChanged{Activity: "Drama Club"})
	require.ErrorContains(t, err, "redis down")
	require.Equal(t, 1, failing.calls)
	require.Equal(t, 1, ok.calls)

	require.NoError(t, Fanout{ok}.Notify(context.Background(), events.RosterChanged{}))
}
