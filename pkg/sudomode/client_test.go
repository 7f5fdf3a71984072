package sudomode

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// instantClock fires immediately and counts how often it was asked to wait.
type instantClock struct {
	calls int32
}

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	atomic.AddInt32(&c.calls, 1)
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

// manualClock fires only when the test ticks it.
type manualClock struct {
	ticks chan time.Time
}

func newManualClock() *manualClock {
	return &manualClock{ticks: make(chan time.Time)}
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	return c.ticks
}

type fakeGovernor struct {
	mu        sync.Mutex
	decision  Decision
	statuses  []string
	polls     int
	lastAuth  string
	lastBody  map[string]any
	getStatus int
}

func (f *fakeGovernor) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/govern", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.lastAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&f.lastBody)
		writeJSON(w, http.StatusOK, f.decision)
	})
	mux.HandleFunc("GET /v1/requests/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.getStatus != 0 {
			writeJSON(w, f.getStatus, map[string]string{"error": "request not found", "request_id": r.PathValue("id")})
			return
		}
		status := f.statuses[min(f.polls, len(f.statuses)-1)]
		f.polls++
		writeJSON(w, http.StatusOK, PendingRequest{ID: r.PathValue("id"), Status: status, Reason: "charge over $50"})
	})
	mux.HandleFunc("GET /v1/requests", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"requests": []PendingRequest{{ID: "a", Status: r.URL.Query().Get("status")}}})
	})
	mux.HandleFunc("POST /v1/requests/{id}/approve", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "done" {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "request is already REJECTED", "current_status": "REJECTED"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "success", "message": "Request approved", "request_id": r.PathValue("id"),
			"request": PendingRequest{ID: r.PathValue("id"), Status: RequestApproved},
		})
	})
	return mux
}

func (f *fakeGovernor) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, gov *fakeGovernor, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(gov.handler())
	t.Cleanup(server.Close)

	client := NewClient(append([]Option{WithBaseURL(server.URL + "/")}, opts...)...)
	t.Cleanup(client.Close)
	return client
}

func TestExecuteAllow(t *testing.T) {
	gov := &fakeGovernor{decision: Decision{Status: StatusAllow, Reason: "small charge"}}

	var states []State
	client := newTestClient(t, gov, WithAPIKey("secret"), WithStateHook(func(s State) { states = append(states, s) }))

	err := client.Execute(context.Background(), "stripe.charge", "charge", nil)
	require.NoError(t, err)

	assert.Equal(t, []State{StateChecking, StateAllowed}, states)
	assert.Equal(t, "Bearer secret", gov.lastAuth)
	assert.Equal(t, map[string]any{"resource": "stripe.charge", "action": "charge", "args": map[string]any{}}, gov.lastBody)
}

func TestExecuteDeny(t *testing.T) {
	gov := &fakeGovernor{decision: Decision{Status: StatusDeny, Reason: "deletes are forbidden", Rule: "no-deletes"}}
	client := newTestClient(t, gov)

	err := client.Execute(context.Background(), "database", "delete", nil)

	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "deletes are forbidden", denied.Reason)
	assert.ErrorIs(t, err, ErrDenied)
	assert.NotErrorIs(t, err, ErrInfrastructure)
}

func TestCheckReturnsDenyWithoutError(t *testing.T) {
	gov := &fakeGovernor{decision: Decision{Status: StatusDeny, Reason: "no"}}
	client := newTestClient(t, gov)

	decision, err := client.Check(context.Background(), "database", "delete", map[string]any{"table": "users"})
	require.NoError(t, err)
	assert.Equal(t, StatusDeny, decision.Status)
}

func TestExecuteWaitsForApproval(t *testing.T) {
	gov := &fakeGovernor{
		decision: Decision{Status: StatusRequireApproval, Reason: "charge over $50", RequestID: "req-1"},
		statuses: []string{RequestPending, RequestPending, RequestApproved},
	}
	clock := &instantClock{}

	var states []State
	client := newTestClient(t, gov, WithClock(clock), WithStateHook(func(s State) { states = append(states, s) }))

	err := client.Execute(context.Background(), "stripe.charge", "charge", map[string]any{"amount": 5000})
	require.NoError(t, err)

	assert.Equal(t, 3, gov.pollCount())
	assert.Equal(t, int32(3), atomic.LoadInt32(&clock.calls))
	assert.Equal(t, []State{StateChecking, StateWaiting, StateApproved}, states)
}

func TestExecuteRejected(t *testing.T) {
	gov := &fakeGovernor{
		decision: Decision{Status: StatusRequireApproval, Reason: "charge over $50", RequestID: "req-1"},
		statuses: []string{RequestPending, RequestRejected},
	}
	client := newTestClient(t, gov, WithClock(&instantClock{}))

	err := client.Execute(context.Background(), "stripe.charge", "charge", map[string]any{"amount": 5000})

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "req-1", rejected.RequestID)
	assert.Equal(t, "charge over $50", rejected.Reason)
	assert.ErrorIs(t, err, ErrRejected)
	assert.NotErrorIs(t, err, ErrInfrastructure)
	assert.NotErrorIs(t, err, ErrDenied)
}

func TestWaitLookupNotFound(t *testing.T) {
	gov := &fakeGovernor{getStatus: http.StatusNotFound}

	var last State
	client := newTestClient(t, gov, WithClock(&instantClock{}), WithStateHook(func(s State) { last = s }))

	_, err := client.Wait(context.Background(), "gone")

	var nf *RequestNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "gone", nf.RequestID)
	assert.ErrorIs(t, err, ErrRequestNotFound)
	assert.ErrorIs(t, err, ErrInfrastructure)
	assert.NotErrorIs(t, err, ErrRejected)
	assert.Equal(t, StateLookupFailed, last)
}

func TestWaitServerErrorIsInfrastructure(t *testing.T) {
	gov := &fakeGovernor{getStatus: http.StatusInternalServerError}
	client := newTestClient(t, gov, WithClock(&instantClock{}))

	_, err := client.Wait(context.Background(), "req-1")

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
	assert.ErrorIs(t, err, ErrInfrastructure)
	assert.NotErrorIs(t, err, ErrRequestNotFound)
}

func TestWaitCancellation(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	gov := &fakeGovernor{statuses: []string{RequestPending}}
	server := httptest.NewServer(gov.handler())
	defer server.Close()

	var mu sync.Mutex
	var last State
	clock := newManualClock()
	client := NewClient(WithBaseURL(server.URL), WithClock(clock), WithStateHook(func(s State) {
		mu.Lock()
		last = s
		mu.Unlock()
	}))
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.Wait(ctx, "req-1")
		done <- err
	}()

	clock.ticks <- time.Now()
	require.Eventually(t, func() bool { return gov.pollCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not stop after cancellation")
	}
	assert.Equal(t, 1, gov.pollCount())

	mu.Lock()
	assert.Equal(t, StateCancelled, last)
	mu.Unlock()
}

func TestWaitDeadline(t *testing.T) {
	gov := &fakeGovernor{statuses: []string{RequestPending}}
	client := newTestClient(t, gov, WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.Wait(ctx, "req-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, gov.pollCount(), 0)
}

func TestTransportFailure(t *testing.T) {
	var states []State
	client := NewClient(WithBaseURL("http://127.0.0.1:1"), WithStateHook(func(s State) { states = append(states, s) }))
	defer client.Close()

	err := client.Execute(context.Background(), "database", "read", nil)
	assert.ErrorIs(t, err, ErrInfrastructure)
	assert.False(t, errors.Is(err, ErrDenied))
	assert.Equal(t, []State{StateChecking, StateCheckFailed}, states)
}

func TestExecuteUnusableDecisionEndsInCheckFailed(t *testing.T) {
	tests := []struct {
		name     string
		decision Decision
	}{
		{"approval without request id", Decision{Status: StatusRequireApproval, Reason: "charge over $50"}},
		{"unknown status", Decision{Status: "MAYBE"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var states []State
			client := newTestClient(t, &fakeGovernor{decision: tt.decision}, WithStateHook(func(s State) { states = append(states, s) }))

			err := client.Execute(context.Background(), "stripe.charge", "charge", nil)

			var te *TransportError
			require.ErrorAs(t, err, &te)
			assert.ErrorIs(t, err, ErrInfrastructure)
			assert.Equal(t, []State{StateChecking, StateCheckFailed}, states)
			assert.True(t, states[len(states)-1].Terminal())
		})
	}
}

func TestListApproveAndConflict(t *testing.T) {
	client := newTestClient(t, &fakeGovernor{})
	ctx := context.Background()

	requests, err := client.ListRequests(ctx, RequestPending)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, RequestPending, requests[0].Status)

	approved, err := client.Approve(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, RequestApproved, approved.Status)

	_, err = client.Approve(ctx, "done")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "REJECTED", conflict.CurrentStatus)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestStateTerminal(t *testing.T) {
	assert.False(t, StateChecking.Terminal())
	assert.False(t, StateWaiting.Terminal())
	for _, s := range []State{StateAllowed, StateDenied, StateApproved, StateRejected, StateLookupFailed, StateCheckFailed, StateCancelled} {
		assert.True(t, s.Terminal(), s)
	}
}
