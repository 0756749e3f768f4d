package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/modelnet-labs/modelnet/internal/license"
	"github.com/modelnet-labs/modelnet/internal/models"
)

// NetworkSource supplies the descriptors of locally managed networks for
// advertisement. The service runner implements it.
type NetworkSource interface {
	AdvertisedNetworks() []NetworkDescriptor
}

// RemoteNetwork is a cached entry for a network discovered on the wire.
type RemoteNetwork struct {
	NetworkDescriptor
	NodeID   string    `json:"node_id"`
	Addr     string    `json:"addr"`
	LastSeen time.Time `json:"last_seen"`
}

// RemoteNode is a cached entry for a peer node.
type RemoteNode struct {
	NodeID       string             `json:"node_id"`
	Addr         string             `json:"addr"`
	Tier         models.LicenseTier `json:"tier"`
	LicenseValid bool               `json:"license_valid"`
	Capabilities *Capabilities      `json:"capabilities,omitempty"`
	LastSeen     time.Time          `json:"last_seen"`
}

// Stats is a snapshot of discovery traffic counters.
type Stats struct {
	RequestsSent       uint64 `json:"requests_sent"`
	RequestsReceived   uint64 `json:"requests_received"`
	ResponsesSent      uint64 `json:"responses_sent"`
	ResponsesReceived  uint64 `json:"responses_received"`
	HeartbeatsSent     uint64 `json:"heartbeats_sent"`
	HeartbeatsReceived uint64 `json:"heartbeats_received"`
	NetworksDiscovered int    `json:"networks_discovered"`
	NodesDiscovered    int    `json:"nodes_discovered"`
}

// Options configures the discovery service.
type Options struct {
	NodeID           string
	Port             int
	BroadcastAddr    string
	AnnounceInterval time.Duration
	// StaleAfter is how long a cached entry survives without being seen.
	StaleAfter   time.Duration
	Capabilities Capabilities
	Metrics      *Metrics
}

// Service runs the announcer and listener loops and owns the cache of
// discovered networks and nodes.
type Service struct {
	opts      Options
	validator license.Validator
	source    NetworkSource
	logger    *slog.Logger

	mu       sync.RWMutex
	networks map[string]*RemoteNetwork
	nodes    map[string]*RemoteNode
	stats    Stats

	conn   *net.UDPConn
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a discovery service. The validator supplies the local
// tier used to filter received advertisements; the source supplies networks
// to announce.
func NewService(opts Options, validator license.Validator, source NetworkSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.AnnounceInterval <= 0 {
		opts.AnnounceInterval = 10 * time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 3 * opts.AnnounceInterval
	}
	return &Service{
		opts:      opts,
		validator: validator,
		source:    source,
		logger:    logger.With("component", "discovery"),
		networks:  make(map[string]*RemoteNetwork),
		nodes:     make(map[string]*RemoteNode),
	}
}

// Start binds the UDP socket and launches the announcer and listener loops.
func (s *Service) Start(ctx context.Context) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: s.opts.Port})
	if err != nil {
		return fmt.Errorf("binding discovery socket: %w", err)
	}
	s.conn = conn

	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.announceLoop(ctx)
	go s.listenLoop(ctx)

	s.logger.Info("discovery started",
		"port", s.opts.Port,
		"broadcast", s.opts.BroadcastAddr,
		"announce_interval", s.opts.AnnounceInterval,
	)
	return nil
}

// Name implements the shutdown component interface.
func (s *Service) Name() string { return "discovery" }

// Shutdown stops both loops and closes the socket.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		s.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// announceLoop periodically advertises managed networks and emits a liveness
// heartbeat, then prunes stale cache entries.
func (s *Service) announceLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.AnnounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Announce(); err != nil {
				s.logger.Warn("announce failed", "error", err)
			}
			if err := s.sendHeartbeat(); err != nil {
				s.logger.Warn("heartbeat send failed", "error", err)
			}
			s.pruneStale()
		}
	}
}

// Announce broadcasts one advertisement carrying every managed network.
func (s *Service) Announce() error {
	d := s.baseDatagram(TypeResponse)
	if s.source != nil {
		d.Networks = s.source.AdvertisedNetworks()
	}
	if err := s.broadcast(d); err != nil {
		return err
	}
	s.countSent(TypeResponse)
	return nil
}

// sendHeartbeat broadcasts a node liveness signal.
func (s *Service) sendHeartbeat() error {
	if err := s.broadcast(s.baseDatagram(TypeHeartbeat)); err != nil {
		return err
	}
	s.countSent(TypeHeartbeat)
	return nil
}

// Discover broadcasts a discovery request, waits for the timeout to elapse,
// and returns whatever networks are cached by then. It never blocks past the
// timeout or the context.
func (s *Service) Discover(ctx context.Context, timeout time.Duration) ([]*RemoteNetwork, error) {
	d := s.baseDatagram(TypeRequest)
	lic := s.validator.CurrentLicense()
	if lic != nil {
		d.SupportedModels = lic.AllowedModels
	}
	if err := s.broadcast(d); err != nil {
		return s.Networks(), err
	}
	s.countSent(TypeRequest)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	return s.Networks(), nil
}

// Networks returns a snapshot of the discovered networks visible to the
// current local tier. Visibility is re-evaluated on every call, so a license
// change applies to entries cached before it.
func (s *Service) Networks() []*RemoteNetwork {
	tier := s.localTier()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*RemoteNetwork, 0, len(s.networks))
	for _, n := range s.networks {
		if !VisibleTo(tier, n.NetworkDescriptor) {
			continue
		}
		copied := *n
		out = append(out, &copied)
	}
	return out
}

// Nodes returns a snapshot of the discovered peer nodes.
func (s *Service) Nodes() []*RemoteNode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*RemoteNode, 0, len(s.nodes))
	for _, n := range s.nodes {
		copied := *n
		out = append(out, &copied)
	}
	return out
}

// Stats returns a snapshot of the traffic counters.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.stats
	st.NetworksDiscovered = len(s.networks)
	st.NodesDiscovered = len(s.nodes)
	return st
}

// listenLoop receives datagrams until the socket closes.
func (s *Service) listenLoop(ctx context.Context) {
	defer s.wg.Done()

	buf := make([]byte, MaxDatagramSize+1)
	for {
		n, src, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.logger.Debug("read error", "error", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.handleDatagram(data, src)
	}
}

// handleDatagram dispatches one received datagram by type.
func (s *Service) handleDatagram(data []byte, src *net.UDPAddr) {
	var d Datagram
	if err := json.Unmarshal(data, &d); err != nil {
		s.logger.Debug("discarding malformed datagram", "from", src.String(), "error", err)
		return
	}
	if d.NodeID == "" || d.NodeID == s.opts.NodeID {
		return
	}

	s.countReceived(d.Type)
	s.recordNode(&d, src)

	switch d.Type {
	case TypeRequest:
		s.answerRequest(&d, src)
	case TypeResponse:
		s.recordNetworks(&d, src)
	case TypeHeartbeat:
		// recordNode already refreshed last_seen.
	default:
		s.logger.Debug("ignoring unknown datagram type", "type", string(d.Type))
	}
}

// answerRequest replies unicast with the networks visible to the requester's
// tier. Visibility is evaluated per request; nothing is cached.
func (s *Service) answerRequest(d *Datagram, src *net.UDPAddr) {
	reply := s.baseDatagram(TypeResponse)
	if s.source != nil {
		reply.Networks = FilterForTier(d.LicenseTier, s.source.AdvertisedNetworks())
	}

	data, err := encodeDatagram(reply)
	if err != nil {
		s.logger.Warn("discovery reply rejected", "error", err)
		return
	}
	if _, err := s.conn.WriteToUDP(data, src); err != nil {
		s.logger.Debug("discovery reply failed", "to", src.String(), "error", err)
		return
	}
	s.countSent(TypeResponse)
}

// recordNetworks caches advertised networks the local tier may see.
func (s *Service) recordNetworks(d *Datagram, src *net.UDPAddr) {
	tier := s.localTier()

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, desc := range d.Networks {
		if !VisibleTo(tier, desc) {
			continue
		}
		host := desc.Host
		if host == "" {
			host = src.IP.String()
		}
		s.networks[desc.NetworkID] = &RemoteNetwork{
			NetworkDescriptor: desc,
			NodeID:            d.NodeID,
			Addr:              fmt.Sprintf("%s:%d", host, desc.Port),
			LastSeen:          now,
		}
	}
}

// localTier reports the tier discovery filters by. Anything short of a valid
// license sees the free tier only.
func (s *Service) localTier() models.LicenseTier {
	if lic := s.validator.CurrentLicense(); lic != nil && lic.Status() == models.LicenseStatusValid {
		return lic.Tier
	}
	return models.TierFree
}

// recordNode refreshes the cache entry for the sending peer.
func (s *Service) recordNode(d *Datagram, src *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[d.NodeID] = &RemoteNode{
		NodeID:       d.NodeID,
		Addr:         src.String(),
		Tier:         d.LicenseTier,
		LicenseValid: d.LicenseValid,
		Capabilities: d.Capabilities,
		LastSeen:     time.Now(),
	}
}

// pruneStale evicts cache entries not seen within the stale window.
func (s *Service) pruneStale() {
	cutoff := time.Now().Add(-s.opts.StaleAfter)
	s.mu.Lock()
	for id, n := range s.networks {
		if n.LastSeen.Before(cutoff) {
			delete(s.networks, id)
		}
	}
	for id, n := range s.nodes {
		if n.LastSeen.Before(cutoff) {
			delete(s.nodes, id)
		}
	}
	networks, nodes := len(s.networks), len(s.nodes)
	s.mu.Unlock()
	s.opts.Metrics.setCacheSizes(networks, nodes)
}

// baseDatagram builds a datagram stamped with this node's identity, tier,
// and capability summary.
func (s *Service) baseDatagram(t DatagramType) *Datagram {
	d := &Datagram{
		Type:         t,
		NodeID:       s.opts.NodeID,
		Capabilities: &s.opts.Capabilities,
		Timestamp:    time.Now().UTC(),
	}
	if lic := s.validator.CurrentLicense(); lic != nil {
		d.LicenseTier = lic.Tier
		d.LicenseValid = lic.Status() == models.LicenseStatusValid
	}
	return d
}

// broadcast encodes and sends a datagram to the broadcast address. Oversized
// datagrams are rejected before transmission.
func (s *Service) broadcast(d *Datagram) error {
	data, err := encodeDatagram(d)
	if err != nil {
		return err
	}
	addr := &net.UDPAddr{IP: net.ParseIP(s.opts.BroadcastAddr), Port: s.opts.Port}
	if addr.IP == nil {
		return fmt.Errorf("invalid broadcast address: %q", s.opts.BroadcastAddr)
	}
	if _, err := s.conn.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("sending datagram: %w", err)
	}
	return nil
}

func (s *Service) countSent(t DatagramType) {
	s.mu.Lock()
	switch t {
	case TypeRequest:
		s.stats.RequestsSent++
	case TypeResponse:
		s.stats.ResponsesSent++
	case TypeHeartbeat:
		s.stats.HeartbeatsSent++
	}
	s.mu.Unlock()
	s.opts.Metrics.markSent(t)
}

func (s *Service) countReceived(t DatagramType) {
	s.mu.Lock()
	switch t {
	case TypeRequest:
		s.stats.RequestsReceived++
	case TypeResponse:
		s.stats.ResponsesReceived++
	case TypeHeartbeat:
		s.stats.HeartbeatsReceived++
	}
	s.mu.Unlock()
	s.opts.Metrics.markReceived(t)
}
