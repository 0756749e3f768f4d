package protocol

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/modelnet-labs/modelnet/internal/models"
)

func testLicense(key string) *models.LicenseInfo {
	return &models.LicenseInfo{
		Key:           key,
		Tier:          models.TierPro,
		ExpiresAt:     time.Now().Add(time.Hour),
		AllowedModels: []string{"*"},
		Valid:         true,
	}
}

// *For any* payload content, serializing a message and deserializing it back
// preserves the message ID, the message type, and every payload field.
func TestPropertyMessageRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("round trip preserves header and payload", prop.ForAll(
		func(modelID, prompt string, maxTokens int) bool {
			payload, err := PayloadOf(&InferenceRequest{
				ModelID:   modelID,
				Prompt:    prompt,
				MaxTokens: maxTokens,
			})
			if err != nil {
				return false
			}
			msg := NewMessage(TypeInferenceRequest, payload, testLicense("key-123"))

			data, err := Marshal(msg)
			if err != nil {
				return false
			}
			decoded, err := Unmarshal(data)
			if err != nil {
				return false
			}

			var req InferenceRequest
			if err := decoded.DecodePayload(&req); err != nil {
				return false
			}
			return decoded.Header.MessageID == msg.Header.MessageID &&
				decoded.Header.Type == TypeInferenceRequest &&
				decoded.Header.LicenseHash == msg.Header.LicenseHash &&
				req.ModelID == modelID &&
				req.Prompt == prompt &&
				req.MaxTokens == maxTokens
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.IntRange(1, 4096),
	))

	properties.TestingRun(t)
}

// *For any* message type, a freshly built message carries a v4 UUID message
// ID, the current protocol version, and a fixed-length license digest.
func TestPropertyNewMessageHeader(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	genType := gen.OneConstOf(
		TypeInferenceRequest, TypeInferenceResponse, TypeHeartbeat,
		TypeAuthentication, TypeLicenseCheck, TypeError,
	)

	properties.Property("header is well formed", prop.ForAll(
		func(msgType MessageType, key string) bool {
			msg := NewMessage(msgType, nil, testLicense(key))

			u, err := uuid.Parse(msg.Header.MessageID)
			if err != nil || u.Version() != 4 {
				return false
			}
			if msg.Header.ProtocolVersion != Version {
				return false
			}
			if msg.Header.LicenseStatus != models.LicenseStatusValid {
				return false
			}
			if key != "" && len(msg.Header.LicenseHash) != licenseHashLength {
				return false
			}
			return msg.Payload != nil
		},
		genType,
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// *For any* protocol version other than the supported set, validation rejects
// the message even when everything else is well formed.
func TestPropertyUnsupportedVersionRejected(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("unsupported versions are rejected", prop.ForAll(
		func(version string) bool {
			msg := NewMessage(TypeHeartbeat, map[string]any{"node_id": "node-1"}, nil)
			if supportedVersions[version] {
				return true
			}
			msg.Header.ProtocolVersion = version
			ok, _ := Validate(msg)
			return !ok
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// *For any* license key, the wire digest is stable, fixed length, and never
// equal to the key itself.
func TestPropertyLicenseHash(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("hash is stable and truncated", prop.ForAll(
		func(key string) bool {
			if key == "" {
				return HashKey(key) == ""
			}
			h := HashKey(key)
			return len(h) == licenseHashLength && h == HashKey(key) && h != key
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
