package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlackNotifierPostsBlocks(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL, "https://dash.example.com/", time.Second)
	err := notifier.Notify(context.Background(), Alert{
		RequestID: "req-1",
		Resource:  "stripe",
		Action:    "refund",
		Args:      map[string]any{"amount": 5000.0},
		Reason:    "large refund",
	})
	require.NoError(t, err)

	assert.Equal(t, "⚠️ SudoMode Approval Required: refund on stripe", got["text"])

	blocks := got["blocks"].([]any)
	require.Len(t, blocks, 5)
	assert.Equal(t, "header", blocks[0].(map[string]any)["type"])
	assert.Equal(t, "divider", blocks[4].(map[string]any)["type"])

	fields := blocks[1].(map[string]any)["fields"].([]any)
	require.Len(t, fields, 4)
	assert.Equal(t, "*Amount:*\n$5,000.00", fields[2].(map[string]any)["text"])
	assert.Equal(t, "*Request ID:*\n`req-1`", fields[3].(map[string]any)["text"])

	link := blocks[3].(map[string]any)["text"].(map[string]any)["text"]
	assert.Equal(t, "*<https://dash.example.com/requests/req-1|View in Dashboard>*", link)
}

func TestSlackNotifierWebhookError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL, "", time.Second)
	err := notifier.Notify(context.Background(), Alert{RequestID: "req-1"})
	assert.ErrorContains(t, err, "500")
}

func TestSlackNotifierTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL, "", 50*time.Millisecond)
	err := notifier.Notify(context.Background(), Alert{RequestID: "req-1"})
	assert.Error(t, err)
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{5000, "$5,000.00"},
		{1234.5, "$1,234.50"},
		{0.99, "$0.99"},
		{int64(1000000), "$1,000,000.00"},
		{json.Number("42"), "$42.00"},
		{-12.5, "-$12.50"},
		{"5000", "N/A"},
		{nil, "N/A"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatAmount(tt.in), "%v", tt.in)
	}
}
