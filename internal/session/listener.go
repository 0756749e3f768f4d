package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/modelnet-labs/modelnet/internal/license"
	"github.com/modelnet-labs/modelnet/internal/models"
	"github.com/modelnet-labs/modelnet/internal/protocol"
)

// Backend executes inference for a hosted network. The core carries requests
// and responses only; model weights never pass through it.
type Backend interface {
	Infer(ctx context.Context, req *protocol.InferenceRequest) (*protocol.InferenceResponse, error)
}

// handlerFunc processes one validated message and returns either a reply or
// a protocol error. Errors are answered on-connection and never fatal.
type handlerFunc func(ctx context.Context, conn *ClientConnection, msg *protocol.Message) (*protocol.Message, *protocol.Error)

// Options configures a listener.
type Options struct {
	NodeID string
	// LoadPerClient scales the advertised load metric.
	LoadPerClient int
	// IdleTimeout closes connections with no message or heartbeat for this
	// long. Zero disables eviction.
	IdleTimeout time.Duration
}

// Stats is a snapshot of listener activity.
type Stats struct {
	ConnectedClients int       `json:"connected_clients"`
	RequestCount     uint64    `json:"request_count"`
	ErrorCount       uint64    `json:"error_count"`
	LastHeartbeat    time.Time `json:"last_heartbeat"`
	Load             int       `json:"load"`
}

// Listener serves one hosted network's session endpoint. Each accepted
// connection runs its own read loop; messages on a connection are processed
// in receipt order.
type Listener struct {
	cfg       *models.NetworkConfig
	validator license.Validator
	backend   Backend
	opts      Options
	logger    *slog.Logger

	upgrader websocket.Upgrader
	server   *http.Server
	ln       net.Listener
	handlers map[protocol.MessageType]handlerFunc

	mu           sync.RWMutex
	conns        map[string]*ClientConnection
	requestCount uint64
	errorCount   uint64
	lastBeat     time.Time
	serving      bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewListener creates a session listener for one network.
func NewListener(cfg *models.NetworkConfig, validator license.Validator, backend Backend, opts Options, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.LoadPerClient <= 0 {
		opts.LoadPerClient = 10
	}
	l := &Listener{
		cfg:       cfg,
		validator: validator,
		backend:   backend,
		opts:      opts,
		logger:    logger.With("component", "session", "network_id", cfg.NetworkID),
		conns:     make(map[string]*ClientConnection),
		lastBeat:  time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Session peers are other nodes, not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	l.handlers = map[protocol.MessageType]handlerFunc{
		protocol.TypeAuthentication:   l.handleAuthentication,
		protocol.TypeInferenceRequest: l.handleInference,
		protocol.TypeHeartbeat:        l.handleHeartbeat,
		protocol.TypeLicenseCheck:     l.handleLicenseCheck,
	}
	return l
}

// Start binds the session endpoint and begins accepting connections.
func (l *Listener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.cfg.Endpoint())
	if err != nil {
		return fmt.Errorf("binding session listener: %w", err)
	}
	l.ln = ln

	router := chi.NewRouter()
	router.Get("/v1/session", l.handleSession)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	l.server = &http.Server{Handler: router}

	ctx, l.cancel = context.WithCancel(ctx)
	l.setServing(true)

	l.wg.Add(2)
	go func() {
		defer l.wg.Done()
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("session listener failed", "error", err)
			l.setServing(false)
		}
	}()
	go l.livenessLoop(ctx)

	l.logger.Info("session listener started", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address. Useful when the config requests port 0.
func (l *Listener) Addr() string {
	if l.ln == nil {
		return ""
	}
	return l.ln.Addr().String()
}

// Shutdown stops accepting new connections, lets in-flight responses finish,
// then closes remaining connections.
func (l *Listener) Shutdown(ctx context.Context) error {
	if l.cancel != nil {
		l.cancel()
	}

	var err error
	if l.server != nil {
		err = l.server.Shutdown(ctx)
	}

	l.mu.Lock()
	conns := make([]*ClientConnection, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()
	for _, c := range conns {
		c.close()
	}

	l.wg.Wait()
	return err
}

// Stats returns a snapshot of listener activity.
func (l *Listener) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{
		ConnectedClients: len(l.conns),
		RequestCount:     l.requestCount,
		ErrorCount:       l.errorCount,
		LastHeartbeat:    l.lastBeat,
		Load:             loadMetric(len(l.conns), l.opts.LoadPerClient),
	}
}

// LastHeartbeat returns the listener's most recent liveness timestamp.
func (l *Listener) LastHeartbeat() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastBeat
}

// ConnectedClients returns the number of open connections.
func (l *Listener) ConnectedClients() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.conns)
}

// Load returns the advertised load metric: min(100, clients * LoadPerClient).
func (l *Listener) Load() int {
	return loadMetric(l.ConnectedClients(), l.opts.LoadPerClient)
}

func loadMetric(clients, perClient int) int {
	load := clients * perClient
	if load > 100 {
		return 100
	}
	return load
}

// livenessLoop refreshes the listener's heartbeat while the serve loop is
// healthy, so the runner's heartbeat monitor can tell a wedged listener from
// a quiet one. It also evicts idle connections.
func (l *Listener) livenessLoop(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			if l.serving {
				l.lastBeat = time.Now()
			}
			l.mu.Unlock()
			l.evictIdle()
		}
	}
}

// evictIdle closes connections silent past the idle timeout. The read loop
// notices the closed socket and removes the connection.
func (l *Listener) evictIdle() {
	if l.opts.IdleTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-l.opts.IdleTimeout)

	l.mu.RLock()
	var idle []*ClientConnection
	for _, c := range l.conns {
		if c.LastHeartbeat().Before(cutoff) {
			idle = append(idle, c)
		}
	}
	l.mu.RUnlock()

	for _, c := range idle {
		l.logger.Info("closing idle connection", "connection_id", c.ID)
		c.close()
	}
}

func (l *Listener) setServing(v bool) {
	l.mu.Lock()
	l.serving = v
	l.mu.Unlock()
}

// handleSession upgrades an accepted connection and runs its read loop.
func (l *Listener) handleSession(w http.ResponseWriter, r *http.Request) {
	if lic := l.validator.CurrentLicense(); lic != nil && lic.MaxClients > 0 {
		if l.ConnectedClients() >= lic.MaxClients {
			http.Error(w, "client capacity reached", http.StatusServiceUnavailable)
			return
		}
	}

	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := newClientConnection(ws)
	l.mu.Lock()
	l.conns[conn.ID] = conn
	l.lastBeat = time.Now()
	l.mu.Unlock()

	l.logger.Info("client connected", "connection_id", conn.ID, "remote", conn.RemoteAddr)

	defer func() {
		l.mu.Lock()
		delete(l.conns, conn.ID)
		l.mu.Unlock()
		_ = ws.Close()
		l.logger.Info("client disconnected", "connection_id", conn.ID)
	}()

	l.readLoop(r.Context(), conn)
}

// readLoop processes messages in receipt order until the peer disconnects.
// Per-message failures are answered with an error message on the same
// connection; only a transport failure ends the loop.
func (l *Listener) readLoop(ctx context.Context, conn *ClientConnection) {
	for {
		var msg protocol.Message
		if err := conn.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.logger.Debug("read error", "connection_id", conn.ID, "error", err)
			}
			return
		}

		conn.markRequest()
		conn.Touch()
		l.mu.Lock()
		l.requestCount++
		l.lastBeat = time.Now()
		l.mu.Unlock()

		reply := l.dispatch(ctx, conn, &msg)
		if reply == nil {
			continue
		}
		if err := conn.send(reply); err != nil {
			l.logger.Debug("write error", "connection_id", conn.ID, "error", err)
			return
		}
	}
}

// dispatch validates a message and routes it through the handler table.
// An unknown type always yields INVALID_REQUEST.
func (l *Listener) dispatch(ctx context.Context, conn *ClientConnection, msg *protocol.Message) *protocol.Message {
	handler, known := l.handlers[msg.Header.Type]
	if !known {
		return l.errorReply(conn, msg,
			protocol.NewError(protocol.CodeInvalidRequest,
				fmt.Sprintf("unsupported message type: %q", msg.Header.Type)))
	}

	if ok, reason := protocol.Validate(msg); !ok {
		return l.errorReply(conn, msg,
			protocol.NewError(protocol.CodeValidationError, reason))
	}

	reply, perr := handler(ctx, conn, msg)
	if perr != nil {
		return l.errorReply(conn, msg, perr)
	}
	return reply
}

// errorReply records the error and builds the on-connection error message.
func (l *Listener) errorReply(conn *ClientConnection, msg *protocol.Message, perr *protocol.Error) *protocol.Message {
	conn.markError()
	l.mu.Lock()
	l.errorCount++
	l.mu.Unlock()
	l.logger.Debug("request rejected",
		"connection_id", conn.ID,
		"message_type", string(msg.Header.Type),
		"code", perr.Code,
	)
	return protocol.NewErrorMessage(perr, msg.Header.MessageID, l.validator.CurrentLicense())
}
