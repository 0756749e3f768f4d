package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestNetworkConfigValidate(t *testing.T) {
	valid := &NetworkConfig{NetworkID: "net-1", ModelID: "llama-7b", Port: 9000}
	assert.NoError(t, valid.Validate())

	assert.Error(t, (&NetworkConfig{ModelID: "llama-7b"}).Validate())
	assert.Error(t, (&NetworkConfig{NetworkID: "net-1"}).Validate())
	assert.Error(t, (&NetworkConfig{NetworkID: "net-1", ModelID: "m", Port: 70000}).Validate())
}

func TestNetworkConfigEndpoint(t *testing.T) {
	cfg := &NetworkConfig{NetworkID: "net-1", ModelID: "m", Host: "10.0.0.5", Port: 9000}
	assert.Equal(t, "10.0.0.5:9000", cfg.Endpoint())

	cfg.Host = ""
	assert.Equal(t, "0.0.0.0:9000", cfg.Endpoint())
}

// *For any* sequence of n messages added to a ring of capacity k, the ring
// retains exactly the last min(n, k) messages in insertion order.
func TestPropertyErrorRingBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("ring keeps the newest entries in order", prop.ForAll(
		func(size, count int) bool {
			ring := NewErrorRing(size)
			for i := 0; i < count; i++ {
				ring.Add(fmt.Sprintf("err-%d", i))
			}

			got := ring.List()
			want := count
			if want > size {
				want = size
			}
			if len(got) != want {
				return false
			}
			for i, msg := range got {
				if msg != fmt.Sprintf("err-%d", count-want+i) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 20),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

func TestErrorRingEmpty(t *testing.T) {
	ring := NewErrorRing(5)
	assert.Empty(t, ring.List())
}
