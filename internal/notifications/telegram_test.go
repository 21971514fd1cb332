package notifications

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trader-engine/internal/logger"
)

func TestNotify_DeliversToMappedChat(t *testing.T) {
	var gotPath, gotChat, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotPath = r.URL.Path
		gotChat = r.FormValue("chat_id")
		gotText = r.FormValue("text")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("test-token", map[int64]string{1: "555"}, logger.NewDiscardLogger())
	n.SetAPIBase(srv.URL)

	n.Notify(1, "Opened BTCUSDT: qty 0.2 @ 100.5")

	assert.Equal(t, "/bottest-token/sendMessage", gotPath)
	assert.Equal(t, "555", gotChat)
	assert.Equal(t, "Opened BTCUSDT: qty 0.2 @ 100.5", gotText)
}

func TestNotify_UnmappedUserSkipsAPI(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("tok", map[int64]string{1: "555"}, logger.NewDiscardLogger())
	n.SetAPIBase(srv.URL)

	n.Notify(42, "nobody home")
	assert.Zero(t, calls)
}

func TestNotify_APIFailureDoesNotPanic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("tok", map[int64]string{1: "555"}, logger.NewDiscardLogger())
	n.SetAPIBase(srv.URL)

	assert.NotPanics(t, func() { n.Notify(1, "blocked") })
}
