// Package shutdown coordinates cooperative shutdown of node components. It
// raises a shutdown signal on SIGTERM/SIGINT, then stops components in
// reverse registration order so hosted networks drain before the discovery
// and monitoring loops go away.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultTimeout bounds the whole shutdown sequence.
const DefaultTimeout = 30 * time.Second

// Component is anything the coordinator can stop.
type Component interface {
	// Name identifies the component in logs.
	Name() string
	// Shutdown stops the component, returning within the context deadline.
	Shutdown(ctx context.Context) error
}

// Coordinator stops registered components in LIFO order under one deadline.
type Coordinator struct {
	mu         sync.Mutex
	components []Component
	timeout    time.Duration
	logger     *slog.Logger

	signalCh chan os.Signal

	once     sync.Once
	done     chan struct{}
	exitCode int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout sets the total shutdown deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) { c.timeout = timeout }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithSignalChannel injects a signal channel, for tests.
func WithSignalChannel(ch chan os.Signal) Option {
	return func(c *Coordinator) { c.signalCh = ch }
}

// NewCoordinator creates a shutdown coordinator.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a component. Components stop in reverse registration order,
// so register dependencies before their dependents.
func (c *Coordinator) Register(component Component) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components = append(c.components, component)
	c.logger.Debug("registered shutdown component", "name", component.Name())
}

// WaitForSignal blocks until SIGTERM or SIGINT, then runs Shutdown.
func (c *Coordinator) WaitForSignal() {
	sigCh := c.signalCh
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}

	sig := <-sigCh
	c.logger.Info("received shutdown signal", "signal", sig)
	c.Shutdown()
}

// Shutdown stops every registered component sequentially, newest first,
// under one deadline. A component error or timeout is logged and recorded in
// the exit code but never prevents the remaining components from stopping.
func (c *Coordinator) Shutdown() {
	c.once.Do(func() {
		c.logger.Info("shutting down", "timeout", c.timeout)

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		c.mu.Lock()
		components := make([]Component, len(c.components))
		copy(components, c.components)
		c.mu.Unlock()

		for i := len(components) - 1; i >= 0; i-- {
			component := components[i]
			c.logger.Info("stopping component", "name", component.Name())
			if err := component.Shutdown(ctx); err != nil {
				c.logger.Error("component stop failed",
					"name", component.Name(),
					"error", err,
				)
				c.exitCode = 1
				continue
			}
			c.logger.Info("component stopped", "name", component.Name())
		}

		if ctx.Err() != nil {
			c.logger.Warn("shutdown deadline exceeded")
			c.exitCode = 1
		}

		close(c.done)
	})
}

// Wait blocks until shutdown has completed.
func (c *Coordinator) Wait() {
	<-c.done
}

// ExitCode is 0 after a clean shutdown and 1 after errors or timeout.
func (c *Coordinator) ExitCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitCode
}
