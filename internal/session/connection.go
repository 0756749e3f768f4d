// Package session terminates accepted connections for a hosted network,
// maintaining per-connection authentication state and dispatching messages
// by type.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/modelnet-labs/modelnet/internal/models"
	"github.com/modelnet-labs/modelnet/internal/protocol"
)

// ClientConnection is the per-accepted-connection state. It starts
// unauthenticated; a license is bound only after a successful authentication
// message. Lifecycle is connection open to close.
type ClientConnection struct {
	ID         string
	RemoteAddr string

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu            sync.RWMutex
	license       *models.LicenseInfo
	lastHeartbeat time.Time
	requestCount  uint64
	errorCount    uint64
}

func newClientConnection(conn *websocket.Conn) *ClientConnection {
	return &ClientConnection{
		ID:            uuid.NewString(),
		RemoteAddr:    conn.RemoteAddr().String(),
		conn:          conn,
		lastHeartbeat: time.Now(),
	}
}

// BindLicense attaches a validated license snapshot to the connection.
func (c *ClientConnection) BindLicense(lic *models.LicenseInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.license = lic
}

// License returns the bound license, or nil before authentication.
func (c *ClientConnection) License() *models.LicenseInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.license
}

// Touch refreshes the heartbeat timestamp.
func (c *ClientConnection) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastHeartbeat = time.Now()
}

// LastHeartbeat returns the time of the last heartbeat or message.
func (c *ClientConnection) LastHeartbeat() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHeartbeat
}

// Counters returns the request and error counts.
func (c *ClientConnection) Counters() (requests, errors uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.requestCount, c.errorCount
}

func (c *ClientConnection) markRequest() {
	c.mu.Lock()
	c.requestCount++
	c.mu.Unlock()
}

func (c *ClientConnection) markError() {
	c.mu.Lock()
	c.errorCount++
	c.mu.Unlock()
}

// send writes a message to the peer. Writes are serialized; the read loop
// and handlers may respond concurrently with listener shutdown.
func (c *ClientConnection) send(m *protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(m)
}

// close sends a websocket close frame and closes the socket.
func (c *ClientConnection) close() {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = c.conn.Close()
}
