package sudomode

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL      = "http://localhost:8000"
	DefaultPollInterval = 2 * time.Second
	DefaultTimeout      = 30 * time.Second
)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the governor address. Defaults to http://localhost:8000.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithAPIKey sends key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithPollInterval sets the wait between status lookups while a request is
// pending. Defaults to two seconds.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithClock replaces the time source used between polls.
func WithClock(clock Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithStateHook is called on every state change of Execute and Wait.
func WithStateHook(hook func(State)) Option {
	return func(c *Client) {
		c.onState = hook
	}
}

// Clock abstracts waiting so polling can be driven by tests.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
