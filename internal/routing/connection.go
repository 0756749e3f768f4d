// Package routing owns concurrent connections to multiple networks and routes
// each request according to a configurable failover strategy.
package routing

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/modelnet-labs/modelnet/internal/models"
	"github.com/modelnet-labs/modelnet/internal/protocol"
)

// transport is one request/response channel to a network. Implementations
// must serialize their own round trips.
type transport interface {
	roundTrip(ctx context.Context, msg *protocol.Message) (*protocol.Message, error)
	close() error
}

// NetworkConnection tracks the client-side state of one network.
type NetworkConnection struct {
	cfg *models.NetworkConfig

	mu         sync.RWMutex
	status     models.ConnectionStatus
	errorCount int
	requests   uint64
	successes  uint64
	failures   uint64
	avgLatency time.Duration
	tr         transport
}

func newNetworkConnection(cfg *models.NetworkConfig) *NetworkConnection {
	return &NetworkConnection{cfg: cfg, status: models.ConnDisconnected}
}

// Status returns the connection state.
func (nc *NetworkConnection) Status() models.ConnectionStatus {
	nc.mu.RLock()
	defer nc.mu.RUnlock()
	return nc.status
}

// recordSuccess folds one successful round trip into the rolling statistics.
func (nc *NetworkConnection) recordSuccess(latency time.Duration) {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.requests++
	nc.successes++
	nc.errorCount = 0
	// Cumulative mean over successful requests.
	n := time.Duration(nc.successes)
	nc.avgLatency += (latency - nc.avgLatency) / n
}

// recordFailure counts one failed round trip and reports whether the error
// threshold has been reached.
func (nc *NetworkConnection) recordFailure(threshold int) (exhausted bool) {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.requests++
	nc.failures++
	nc.errorCount++
	return nc.errorCount >= threshold
}

// NetworkStats is a point-in-time view of one connection's counters.
type NetworkStats struct {
	NetworkID    string                  `json:"network_id"`
	ModelID      string                  `json:"model_id"`
	Status       models.ConnectionStatus `json:"status"`
	ErrorCount   int                     `json:"error_count"`
	Requests     uint64                  `json:"requests"`
	Successes    uint64                  `json:"successes"`
	Failures     uint64                  `json:"failures"`
	AvgLatencyMs float64                 `json:"avg_latency_ms"`
}

func (nc *NetworkConnection) stats() NetworkStats {
	nc.mu.RLock()
	defer nc.mu.RUnlock()
	return NetworkStats{
		NetworkID:    nc.cfg.NetworkID,
		ModelID:      nc.cfg.ModelID,
		Status:       nc.status,
		ErrorCount:   nc.errorCount,
		Requests:     nc.requests,
		Successes:    nc.successes,
		Failures:     nc.failures,
		AvgLatencyMs: float64(nc.avgLatency) / float64(time.Millisecond),
	}
}

// Session records routing affinity for one caller session. It stores only the
// network ID, never a reference, so registries cannot form ownership cycles.
type Session struct {
	SessionID   string    `json:"session_id"`
	CreatedAt   time.Time `json:"created_at"`
	LastNetwork string    `json:"last_network"`
}

// wsTransport is the websocket-backed transport used outside tests.
type wsTransport struct {
	mu sync.Mutex
	ws *websocket.Conn
}

// roundTrip writes the request and reads one reply. Round trips are
// serialized so replies pair with their requests.
func (t *wsTransport) roundTrip(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := t.ws.SetWriteDeadline(deadline); err != nil {
		return nil, err
	}
	if err := t.ws.WriteJSON(msg); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if err := t.ws.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	var reply protocol.Message
	if err := t.ws.ReadJSON(&reply); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &reply, nil
}

func (t *wsTransport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return t.ws.Close()
}

// dialWebsocket connects to a network's session endpoint and authenticates.
func dialWebsocket(ctx context.Context, cfg *models.NetworkConfig, lic *models.LicenseInfo, timeout time.Duration) (transport, error) {
	host := cfg.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	u := url.URL{Scheme: "ws", Host: fmt.Sprintf("%s:%d", host, cfg.Port), Path: "/v1/session"}

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", u.String(), err)
	}
	tr := &wsTransport{ws: ws}

	if lic != nil && lic.Key != "" {
		payload, err := protocol.PayloadOf(&protocol.Authentication{LicenseKey: lic.Key})
		if err != nil {
			tr.close()
			return nil, err
		}
		authCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		reply, err := tr.roundTrip(authCtx, protocol.NewMessage(protocol.TypeAuthentication, payload, lic))
		if err != nil {
			tr.close()
			return nil, fmt.Errorf("authenticating: %w", err)
		}
		if reply.Header.Type == protocol.TypeError {
			tr.close()
			var perr protocol.Error
			if decodeErr := reply.DecodePayload(&perr); decodeErr == nil {
				return nil, &perr
			}
			return nil, fmt.Errorf("authentication rejected")
		}
	}

	return tr, nil
}
