// Package discovery announces locally hosted networks and discovers remote
// ones over connectionless UDP broadcast, without a central directory.
package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelnet-labs/modelnet/internal/models"
)

// MaxDatagramSize is the largest datagram the service will transmit. Larger
// payloads are rejected by the sender before transmission, never truncated.
const MaxDatagramSize = 8192

// ErrDatagramTooLarge is returned when an encoded datagram exceeds MaxDatagramSize.
var ErrDatagramTooLarge = errors.New("datagram exceeds maximum size")

// DatagramType identifies a discovery datagram.
type DatagramType string

const (
	TypeRequest   DatagramType = "discovery_request"
	TypeResponse  DatagramType = "discovery_response"
	TypeHeartbeat DatagramType = "heartbeat"
)

// NetworkState is the advertised availability of a network.
type NetworkState string

const (
	NetworkActive   NetworkState = "ACTIVE"
	NetworkInactive NetworkState = "INACTIVE"
)

// NetworkDescriptor advertises one hosted network to peers.
type NetworkDescriptor struct {
	NetworkID      string             `json:"network_id"`
	NetworkName    string             `json:"network_name,omitempty"`
	ModelID        string             `json:"model_id"`
	NetworkType    string             `json:"network_type,omitempty"`
	RequiredTier   models.LicenseTier `json:"required_license_tier"`
	Status         NetworkState       `json:"status"`
	MaxClients     int                `json:"max_clients"`
	CurrentClients int                `json:"current_clients"`
	Host           string             `json:"host,omitempty"`
	Port           int                `json:"port,omitempty"`
}

// Capabilities summarizes what a node can do, letting peers pre-filter
// candidates without opening a connection.
type Capabilities struct {
	MaxClients        int      `json:"max_clients"`
	AllowedModels     []string `json:"allowed_models,omitempty"`
	CanCreateNetworks bool     `json:"can_create_networks"`
	CanJoinNetworks   bool     `json:"can_join_networks"`
}

// Datagram is the JSON wire shape shared by discovery requests, responses,
// and heartbeats. Ephemeral; never persisted.
type Datagram struct {
	Type            DatagramType        `json:"type"`
	NodeID          string              `json:"node_id"`
	LicenseTier     models.LicenseTier  `json:"license_tier"`
	LicenseValid    bool                `json:"license_valid"`
	RequestedTypes  []string            `json:"requested_network_types,omitempty"`
	SupportedModels []string            `json:"supported_models,omitempty"`
	Capabilities    *Capabilities       `json:"capabilities,omitempty"`
	Networks        []NetworkDescriptor `json:"networks,omitempty"`
	Timestamp       time.Time           `json:"timestamp"`
}

// encodeDatagram marshals a datagram, enforcing the size ceiling.
func encodeDatagram(d *Datagram) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encoding datagram: %w", err)
	}
	if len(data) > MaxDatagramSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrDatagramTooLarge, len(data))
	}
	return data, nil
}

// VisibleTo reports whether a network is discoverable by a node of the given
// tier: the network must be ACTIVE and its required tier must not exceed the
// requester's. Evaluated per (node, network) pair; the decision is never
// cached across tier changes.
func VisibleTo(tier models.LicenseTier, desc NetworkDescriptor) bool {
	return desc.Status == NetworkActive && tier.AtLeast(desc.RequiredTier)
}

// FilterForTier returns the subset of descriptors visible to the given tier.
func FilterForTier(tier models.LicenseTier, descs []NetworkDescriptor) []NetworkDescriptor {
	var visible []NetworkDescriptor
	for _, d := range descs {
		if VisibleTo(tier, d) {
			visible = append(visible, d)
		}
	}
	return visible
}
