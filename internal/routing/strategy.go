package routing

import (
	"fmt"
	"time"
)

// Strategy is the policy used to pick among connected networks for a new
// request or a new primary after failure.
type Strategy string

const (
	// StrategyPriority picks the first connected network in registration order.
	StrategyPriority Strategy = "priority_based"
	// StrategyRoundRobin cycles through connected networks after the one
	// used last.
	StrategyRoundRobin Strategy = "round_robin"
	// StrategyLoadBalanced picks the connected network with the fewest
	// recorded requests.
	StrategyLoadBalanced Strategy = "load_balanced"
	// StrategyFastestResponse picks the connected network with the lowest
	// rolling-average response time.
	StrategyFastestResponse Strategy = "fastest_response"
)

// ParseStrategy parses a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyPriority, StrategyRoundRobin, StrategyLoadBalanced, StrategyFastestResponse:
		return Strategy(s), nil
	case "":
		return StrategyPriority, nil
	default:
		return "", fmt.Errorf("unknown routing strategy: %q", s)
	}
}

// pick applies the strategy to the candidate list. Candidates are connected
// networks in registration order; lastUsed seeds round-robin rotation.
// Returns "" when there are no candidates.
func (s Strategy) pick(candidates []string, conns map[string]*NetworkConnection, lastUsed string) string {
	if len(candidates) == 0 {
		return ""
	}

	switch s {
	case StrategyRoundRobin:
		for i, id := range candidates {
			if id == lastUsed {
				return candidates[(i+1)%len(candidates)]
			}
		}
		return candidates[0]

	case StrategyLoadBalanced:
		best := candidates[0]
		bestRequests := ^uint64(0)
		for _, id := range candidates {
			if st := conns[id].stats(); st.Requests < bestRequests {
				best = id
				bestRequests = st.Requests
			}
		}
		return best

	case StrategyFastestResponse:
		best := candidates[0]
		bestLatency := time.Duration(-1)
		for _, id := range candidates {
			st := conns[id].stats()
			latency := time.Duration(st.AvgLatencyMs * float64(time.Millisecond))
			if bestLatency < 0 || latency < bestLatency {
				best = id
				bestLatency = latency
			}
		}
		return best

	default:
		// PRIORITY_BASED: first in registration order.
		return candidates[0]
	}
}
