// Package protocol defines the canonical message envelope exchanged between
// modelnet nodes: construction, serialization, and validation.
package protocol

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/modelnet-labs/modelnet/internal/models"
)

// Version is the protocol version stamped on outgoing messages.
const Version = "1.0"

// supportedVersions is the set of protocol versions this build accepts.
var supportedVersions = map[string]bool{
	"1.0": true,
}

// licenseHashLength is the number of hex characters of the license digest
// carried on the wire. The digest is one-way; the raw key never leaves a node.
const licenseHashLength = 16

// MessageType identifies the payload variant of a message. The set is closed;
// dispatch tables over it are expected to be exhaustive.
type MessageType string

const (
	TypeInferenceRequest  MessageType = "inference_request"
	TypeInferenceResponse MessageType = "inference_response"
	TypeHeartbeat         MessageType = "heartbeat"
	TypeAuthentication    MessageType = "authentication"
	TypeLicenseCheck      MessageType = "license_check"
	TypeError             MessageType = "error"
)

// knownTypes is the closed message type enum.
var knownTypes = map[MessageType]bool{
	TypeInferenceRequest:  true,
	TypeInferenceResponse: true,
	TypeHeartbeat:         true,
	TypeAuthentication:    true,
	TypeLicenseCheck:      true,
	TypeError:             true,
}

// Header carries the envelope metadata present on every message.
type Header struct {
	MessageID       string               `json:"message_id"`
	Type            MessageType          `json:"message_type"`
	ProtocolVersion string               `json:"protocol_version"`
	Timestamp       time.Time            `json:"timestamp"`
	LicenseStatus   models.LicenseStatus `json:"license_status"`
	LicenseHash     string               `json:"license_hash,omitempty"`
}

// Message is the JSON envelope {header, payload}. The payload is kept as a
// generic map so that round-tripping preserves every field, including ones
// this build does not interpret.
type Message struct {
	Header  Header         `json:"header"`
	Payload map[string]any `json:"payload"`
}

// NewMessage builds a message of the given type. The license status is derived
// from the snapshot; the license hash is a truncated one-way digest of the key.
func NewMessage(msgType MessageType, payload map[string]any, lic *models.LicenseInfo) *Message {
	if payload == nil {
		payload = map[string]any{}
	}
	h := Header{
		MessageID:       uuid.NewString(),
		Type:            msgType,
		ProtocolVersion: Version,
		Timestamp:       time.Now().UTC(),
		LicenseStatus:   lic.Status(),
	}
	if lic != nil && lic.Key != "" {
		h.LicenseHash = HashKey(lic.Key)
	}
	return &Message{Header: h, Payload: payload}
}

// HashKey returns the truncated one-way digest of a license key.
func HashKey(key string) string {
	if key == "" {
		return ""
	}
	sum := sha3.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:licenseHashLength]
}

// Marshal serializes the message to its canonical JSON encoding.
func Marshal(m *Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshaling message: %w", err)
	}
	return data, nil
}

// Unmarshal is the inverse of Marshal. Round-tripping preserves the header
// message ID and all payload fields.
func Unmarshal(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshaling message: %w", err)
	}
	return &m, nil
}

// DecodePayload decodes the generic payload into a typed struct.
func (m *Message) DecodePayload(v any) error {
	data, err := json.Marshal(m.Payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	return nil
}

// PayloadOf converts a typed payload struct to the generic map form.
func PayloadOf(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return out, nil
}

// InferenceRequest is the typed payload of an inference_request message.
type InferenceRequest struct {
	ModelID     string  `json:"model_id"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	SessionID   string  `json:"session_id,omitempty"`
}

// InferenceResponse is the typed payload of an inference_response message.
type InferenceResponse struct {
	ModelID         string `json:"model_id"`
	Text            string `json:"text"`
	TokensGenerated int    `json:"tokens_generated"`
	NetworkID       string `json:"network_id,omitempty"`
	SessionID       string `json:"session_id,omitempty"`
}

// Authentication is the typed payload of an authentication message.
type Authentication struct {
	LicenseKey string `json:"license_key"`
	NodeID     string `json:"node_id,omitempty"`
}

// AuthenticationAck is the typed payload answering an authentication message.
type AuthenticationAck struct {
	Authenticated bool   `json:"authenticated"`
	Tier          string `json:"tier,omitempty"`
	ConnectionID  string `json:"connection_id,omitempty"`
}

// Heartbeat is the typed payload of a heartbeat message.
type Heartbeat struct {
	NodeID string `json:"node_id"`
	Load   int    `json:"load,omitempty"`
}

// HeartbeatAck is the typed payload answering a heartbeat, carrying the
// reporting node's current load and available-resource snapshot.
type HeartbeatAck struct {
	NodeID         string `json:"node_id"`
	Load           int    `json:"load"`
	ConnectedPeers int    `json:"connected_peers"`
	AvailableSlots int    `json:"available_slots"`
}

// LicenseCheck is the typed payload of a license_check message.
type LicenseCheck struct {
	LicenseKey string `json:"license_key"`
}

// LicenseCheckResult is the typed payload answering a license_check message.
type LicenseCheckResult struct {
	Status models.LicenseStatus `json:"status"`
	Tier   string               `json:"tier,omitempty"`
}
