package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockComponent records shutdown calls into a shared journal.
type mockComponent struct {
	name  string
	delay time.Duration
	fail  bool

	journal *journal
}

type journal struct {
	mu    sync.Mutex
	order []string
}

func (j *journal) record(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.order = append(j.order, name)
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.order))
	copy(out, j.order)
	return out
}

func (m *mockComponent) Name() string { return m.name }

func (m *mockComponent) Shutdown(ctx context.Context) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.journal.record(m.name)
	if m.fail {
		return errors.New("component refused to stop")
	}
	return nil
}

func TestShutdownIsLIFO(t *testing.T) {
	j := &journal{}
	c := NewCoordinator(WithTimeout(time.Second))

	for _, name := range []string{"runner", "discovery", "status_api"} {
		c.Register(&mockComponent{name: name, journal: j})
	}

	c.Shutdown()
	c.Wait()

	assert.Equal(t, []string{"status_api", "discovery", "runner"}, j.snapshot())
	assert.Equal(t, 0, c.ExitCode())
}

func TestShutdownContinuesPastFailures(t *testing.T) {
	j := &journal{}
	c := NewCoordinator(WithTimeout(time.Second))

	c.Register(&mockComponent{name: "a", journal: j})
	c.Register(&mockComponent{name: "b", journal: j, fail: true})
	c.Register(&mockComponent{name: "c", journal: j})

	c.Shutdown()
	c.Wait()

	assert.Equal(t, []string{"c", "b", "a"}, j.snapshot())
	assert.Equal(t, 1, c.ExitCode())
}

func TestShutdownDeadline(t *testing.T) {
	j := &journal{}
	c := NewCoordinator(WithTimeout(50 * time.Millisecond))

	c.Register(&mockComponent{name: "fast", journal: j})
	c.Register(&mockComponent{name: "slow", delay: time.Second, journal: j})

	c.Shutdown()
	c.Wait()

	assert.Equal(t, 1, c.ExitCode())
	// The slow component timed out; the one below it still ran.
	assert.Contains(t, j.snapshot(), "fast")
}

func TestShutdownIsIdempotent(t *testing.T) {
	j := &journal{}
	c := NewCoordinator(WithTimeout(time.Second))
	c.Register(&mockComponent{name: "a", journal: j})

	c.Shutdown()
	c.Shutdown()
	c.Wait()

	assert.Equal(t, []string{"a"}, j.snapshot())
}

// *For any* number of registered components, a received signal stops every
// one of them exactly once, newest first, within the configured timeout.
func TestPropertySignalStopsAllComponents(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("every component stops exactly once in reverse order", prop.ForAll(
		func(numComponents int) bool {
			j := &journal{}
			sigCh := make(chan os.Signal, 1)
			c := NewCoordinator(
				WithTimeout(2*time.Second),
				WithSignalChannel(sigCh),
			)

			var names []string
			for i := 0; i < numComponents; i++ {
				name := fmt.Sprintf("component-%d", i)
				names = append(names, name)
				c.Register(&mockComponent{name: name, journal: j})
			}

			done := make(chan struct{})
			go func() {
				c.WaitForSignal()
				close(done)
			}()

			sigCh <- os.Interrupt

			select {
			case <-done:
			case <-time.After(5 * time.Second):
				return false
			}

			got := j.snapshot()
			if len(got) != numComponents {
				return false
			}
			for i, name := range got {
				if name != names[numComponents-1-i] {
					return false
				}
			}
			return c.ExitCode() == 0
		},
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}

func TestWaitBlocksUntilShutdown(t *testing.T) {
	c := NewCoordinator(WithTimeout(time.Second))
	c.Register(&mockComponent{name: "a", journal: &journal{}})

	released := make(chan struct{})
	go func() {
		c.Wait()
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("Wait returned before Shutdown")
	case <-time.After(50 * time.Millisecond):
	}

	c.Shutdown()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Shutdown")
	}
	require.Equal(t, 0, c.ExitCode())
}
