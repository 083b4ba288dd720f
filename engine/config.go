package engine

import (
	"fmt"

	"github.com/rs/zerolog"
)

// config holds the resolved settings for a Server, built via functional
// Options.
type config struct {
	workers   int
	capacity  int
	maxEvents int
	inboxSize int
	logger    zerolog.Logger
}

func defaultConfig() config {
	return config{
		workers:   1,
		capacity:  64,
		maxEvents: 64,
		inboxSize: 1024,
		logger:    zerolog.Nop(),
	}
}

// Option configures a Server.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

// WithWorkers sets the number of worker goroutines, each owning one
// poller instance and one ConnectionPool. Default: 1.
func WithWorkers(n int) Option {
	return optionFunc(func(c *config) { c.workers = n })
}

// WithCapacity sets the per-worker ConnectionPool capacity (the maximum
// number of concurrently served connections per worker). Default: 64.
func WithCapacity(n int) Option {
	return optionFunc(func(c *config) { c.capacity = n })
}

// WithMaxEvents sets the maximum number of readiness events a worker polls
// for per wait() cycle. Default: 64.
func WithMaxEvents(n int) Option {
	return optionFunc(func(c *config) { c.maxEvents = n })
}

// WithInboxSize sets the capacity of the acceptor->worker socket channel.
// An unbounded inbox is also a defensible choice; this implementation
// chooses a bounded one so a slow or wedged worker set applies backpressure
// to accept() rather than growing memory without bound. Default: 1024.
func WithInboxSize(n int) Option {
	return optionFunc(func(c *config) { c.inboxSize = n })
}

// WithLogger sets the zerolog.Logger used for connection lifecycle and
// error events. Default: a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return optionFunc(func(c *config) { c.logger = logger })
}

func resolveConfig(opts []Option) (config, error) {
	c := defaultConfig()
	for _, o := range opts {
		if o == nil {
			continue
		}
		o.apply(&c)
	}
	if c.workers < 1 {
		return config{}, fmt.Errorf("engine: workers must be >= 1, got %d", c.workers)
	}
	if c.capacity < 1 {
		return config{}, fmt.Errorf("engine: capacity must be >= 1, got %d", c.capacity)
	}
	if c.maxEvents < 1 {
		return config{}, fmt.Errorf("engine: maxEvents must be >= 1, got %d", c.maxEvents)
	}
	return c, nil
}
