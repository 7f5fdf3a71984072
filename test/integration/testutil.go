package integration

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dagbolade/sudomode/internal/approval"
	"github.com/dagbolade/sudomode/internal/audit"
	"github.com/dagbolade/sudomode/internal/governance"
	"github.com/dagbolade/sudomode/internal/metrics"
	"github.com/dagbolade/sudomode/internal/notify"
	"github.com/dagbolade/sudomode/internal/policy"
	"github.com/dagbolade/sudomode/internal/server"
	"github.com/dagbolade/sudomode/pkg/sudomode"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const defaultRules = `
rules:
  - name: no-deletes
    resource: database
    action: delete
    decision: DENY
    reason: deletes are forbidden
  - name: big-charges
    resource: stripe.charge
    action: charge
    condition: args.amount > 50
    decision: REQUIRE_APPROVAL
    reason: charge over $50
  - name: charges
    resource: stripe.charge
    action: charge
    decision: ALLOW
    reason: small charge
  - name: reads
    resource: "*"
    action: read
    decision: ALLOW
    reason: reads are safe
`

// TestEnvironment is a complete governor behind a real HTTP listener.
type TestEnvironment struct {
	Engine     *policy.Engine
	Store      *approval.InMemoryStore
	AuditStore *audit.SQLiteStore
	Notifier   *RecordingNotifier
	Dispatcher *notify.Dispatcher
	Metrics    *metrics.Metrics
	Registry   *prometheus.Registry
	Server     *server.Server
	HTTPServer *httptest.Server
	RulePath   string
	t          *testing.T
}

// SetupTestEnvironment starts a governor over rules. An empty rules string
// uses the default rule set.
func SetupTestEnvironment(t *testing.T, rules string) *TestEnvironment {
	t.Helper()

	if rules == "" {
		rules = defaultRules
	}

	tmpDir := t.TempDir()
	rulePath := filepath.Join(tmpDir, "policies.yaml")
	require.NoError(t, os.WriteFile(rulePath, []byte(rules), 0644))

	engine, err := policy.NewEngine(rulePath)
	require.NoError(t, err)

	auditStore, err := audit.NewSQLiteStore(filepath.Join(tmpDir, "audit.db"))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	store := approval.NewInMemoryStore()
	notifier := &RecordingNotifier{}
	dispatcher := notify.NewDispatcher(notifier, notify.DispatcherConfig{Workers: 2, QueueSize: 100, Timeout: time.Second, Metrics: m})

	svc := governance.NewService(engine, store,
		governance.WithDispatcher(dispatcher),
		governance.WithAudit(auditStore),
		governance.WithMetrics(m),
	)

	srv := server.New(server.Config{
		Host:            "127.0.0.1",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}, server.Deps{
		Service:   svc,
		Resolver:  governance.NewResolver(svc),
		Store:     store,
		Evaluator: engine,
		Audit:     auditStore,
		Metrics:   m,
		Gatherer:  reg,
	})

	env := &TestEnvironment{
		Engine:     engine,
		Store:      store,
		AuditStore: auditStore,
		Notifier:   notifier,
		Dispatcher: dispatcher,
		Metrics:    m,
		Registry:   reg,
		Server:     srv,
		HTTPServer: httptest.NewServer(srv.Handler()),
		RulePath:   rulePath,
		t:          t,
	}

	t.Cleanup(func() {
		env.HTTPServer.Close()
		srv.Hub().Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		dispatcher.Close(ctx)
		engine.Close()
		store.Close()
		auditStore.Close()
	})

	return env
}

// BaseURL returns the base URL of the test HTTP server
func (e *TestEnvironment) BaseURL() string {
	return e.HTTPServer.URL
}

// Client returns an SDK client pointed at the environment with a short
// poll interval.
func (e *TestEnvironment) Client(opts ...sudomode.Option) *sudomode.Client {
	base := []sudomode.Option{
		sudomode.WithBaseURL(e.BaseURL()),
		sudomode.WithPollInterval(20 * time.Millisecond),
	}
	client := sudomode.NewClient(append(base, opts...)...)
	e.t.Cleanup(client.Close)
	return client
}

// WriteRules replaces the rule file on disk.
func (e *TestEnvironment) WriteRules(rules string) {
	e.t.Helper()
	require.NoError(e.t, os.WriteFile(e.RulePath, []byte(rules), 0644))
}

// WaitForPending waits until at least n requests are pending.
func (e *TestEnvironment) WaitForPending(n int, timeout time.Duration) ([]approval.Request, error) {
	deadline := time.Now().Add(timeout)
	for {
		pending, err := e.Store.List(context.Background(), approval.ListFilter{Status: approval.StatusPending})
		if err != nil {
			return nil, err
		}
		if len(pending) >= n {
			return pending, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timeout waiting for %d pending requests, have %d", n, len(pending))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// RecordingNotifier keeps every alert it is asked to deliver.
type RecordingNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
	err    error
}

func (r *RecordingNotifier) Notify(ctx context.Context, alert notify.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return r.err
}

// Fail makes every later delivery return err.
func (r *RecordingNotifier) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *RecordingNotifier) Alerts() []notify.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Alert(nil), r.alerts...)
}
