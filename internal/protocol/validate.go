package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Validate checks a message against the protocol contract. It returns false
// and a reason on the first failed check. Checks run in a fixed order:
// header present, well-formed UUID v4 message ID, known message type,
// supported protocol version, required payload fields, numeric ranges.
func Validate(m *Message) (bool, string) {
	if m == nil {
		return false, "message is nil"
	}
	if m.Header.MessageID == "" && m.Header.Type == "" && m.Header.ProtocolVersion == "" {
		return false, "missing header"
	}

	u, err := uuid.Parse(m.Header.MessageID)
	if err != nil {
		return false, fmt.Sprintf("malformed message_id: %v", err)
	}
	if u.Version() != 4 {
		return false, fmt.Sprintf("message_id is UUID v%d, want v4", u.Version())
	}

	if !knownTypes[m.Header.Type] {
		return false, fmt.Sprintf("unknown message_type: %q", m.Header.Type)
	}

	// An unsupported version is always rejected, even if the rest of the
	// payload is valid.
	if !supportedVersions[m.Header.ProtocolVersion] {
		return false, fmt.Sprintf("unsupported protocol_version: %q", m.Header.ProtocolVersion)
	}

	return validatePayload(m.Header.Type, m.Payload)
}

// ValidateRaw validates a serialized message without requiring the caller to
// unmarshal it first. Malformed JSON fails the header-present check.
func ValidateRaw(data []byte) (bool, string) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return false, fmt.Sprintf("malformed message: %v", err)
	}
	if _, ok := envelope["header"]; !ok {
		return false, "missing header"
	}
	m, err := Unmarshal(data)
	if err != nil {
		return false, fmt.Sprintf("malformed message: %v", err)
	}
	return Validate(m)
}

// validatePayload enforces per-type required fields and numeric ranges.
func validatePayload(msgType MessageType, payload map[string]any) (bool, string) {
	switch msgType {
	case TypeInferenceRequest:
		if ok, reason := requireString(payload, "model_id"); !ok {
			return false, reason
		}
		if ok, reason := requireString(payload, "prompt"); !ok {
			return false, reason
		}
		if v, ok := numberField(payload, "max_tokens"); ok && v <= 0 {
			return false, "max_tokens must be greater than 0"
		}
		if v, ok := numberField(payload, "temperature"); ok && (v < 0 || v > 2) {
			return false, "temperature must be within [0, 2]"
		}
		if v, ok := numberField(payload, "top_p"); ok && (v < 0 || v > 1) {
			return false, "top_p must be within [0, 1]"
		}
	case TypeAuthentication:
		if ok, reason := requireString(payload, "license_key"); !ok {
			return false, reason
		}
	case TypeLicenseCheck:
		if ok, reason := requireString(payload, "license_key"); !ok {
			return false, reason
		}
	case TypeHeartbeat:
		if ok, reason := requireString(payload, "node_id"); !ok {
			return false, reason
		}
	case TypeError:
		if ok, reason := requireString(payload, "code"); !ok {
			return false, reason
		}
	case TypeInferenceResponse:
		// Responses carry no required fields beyond the header.
	}
	return true, ""
}

// requireString checks that a payload field is present and a non-empty string.
func requireString(payload map[string]any, field string) (bool, string) {
	v, ok := payload[field]
	if !ok {
		return false, fmt.Sprintf("missing required field: %s", field)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return false, fmt.Sprintf("field %s must be a non-empty string", field)
	}
	return true, ""
}

// numberField extracts a numeric payload field if present. JSON decoding
// yields float64; typed construction may yield int.
func numberField(payload map[string]any, field string) (float64, bool) {
	v, ok := payload[field]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
