// Package models defines the shared data model for the modelnet core.
package models

import (
	"fmt"
	"time"
)

// LicenseTier is an ordered capability level gating network visibility,
// model access, and capacity.
type LicenseTier int

const (
	// TierFree is the lowest tier.
	TierFree LicenseTier = iota
	// TierPro unlocks larger models and higher capacity.
	TierPro
	// TierEnterprise is the highest tier.
	TierEnterprise
)

// String returns the wire representation of the tier.
func (t LicenseTier) String() string {
	switch t {
	case TierFree:
		return "free"
	case TierPro:
		return "pro"
	case TierEnterprise:
		return "enterprise"
	default:
		return "unknown"
	}
}

// AtLeast reports whether t grants at least the capabilities of other.
func (t LicenseTier) AtLeast(other LicenseTier) bool {
	return t >= other
}

// ParseTier parses a tier name. Unknown names resolve to TierFree.
func ParseTier(s string) LicenseTier {
	switch s {
	case "pro", "PRO":
		return TierPro
	case "enterprise", "ENTERPRISE":
		return TierEnterprise
	default:
		return TierFree
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t LicenseTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *LicenseTier) UnmarshalText(text []byte) error {
	*t = ParseTier(string(text))
	return nil
}

// LicenseStatus is the license state stamped on protocol message headers.
type LicenseStatus string

const (
	LicenseStatusMissing LicenseStatus = "missing"
	LicenseStatusValid   LicenseStatus = "valid"
	LicenseStatusExpired LicenseStatus = "expired"
	LicenseStatusInvalid LicenseStatus = "invalid"
)

// LicenseInfo is an immutable snapshot of a validated license. The core
// reads it for the duration of one check and never mutates it.
type LicenseInfo struct {
	// Key is the raw license key. It is never serialized; only a
	// truncated one-way digest of it appears on the wire.
	Key string `json:"-"`

	Tier            LicenseTier `json:"tier"`
	ExpiresAt       time.Time   `json:"expires_at"`
	MaxClients      int         `json:"max_clients"`
	MaxNetworks     int         `json:"max_networks"`
	MaxSessions     int         `json:"max_sessions"`
	AllowedModels   []string    `json:"allowed_models"`
	AllowedFeatures []string    `json:"allowed_features"`
	HardwareID      string      `json:"hardware_id,omitempty"`
	Valid           bool        `json:"valid"`
}

// Expired reports whether the license expiry has passed.
func (l *LicenseInfo) Expired() bool {
	return !l.ExpiresAt.IsZero() && time.Now().After(l.ExpiresAt)
}

// ModelAllowed reports whether the license grants access to the model.
// A single "*" entry grants access to every model.
func (l *LicenseInfo) ModelAllowed(modelID string) bool {
	for _, m := range l.AllowedModels {
		if m == "*" || m == modelID {
			return true
		}
	}
	return false
}

// FeatureEnabled reports whether the named feature is granted.
func (l *LicenseInfo) FeatureEnabled(feature string) bool {
	for _, f := range l.AllowedFeatures {
		if f == feature {
			return true
		}
	}
	return false
}

// Status derives the wire license status for a snapshot. A nil snapshot
// is "missing".
func (l *LicenseInfo) Status() LicenseStatus {
	if l == nil {
		return LicenseStatusMissing
	}
	if !l.Valid {
		return LicenseStatusInvalid
	}
	if l.Expired() {
		return LicenseStatusExpired
	}
	return LicenseStatusValid
}

// Describe returns a short human-readable summary for logs.
func (l *LicenseInfo) Describe() string {
	if l == nil {
		return "no license"
	}
	return fmt.Sprintf("%s license, %d networks, %d clients, expires %s",
		l.Tier, l.MaxNetworks, l.MaxClients, l.ExpiresAt.Format(time.RFC3339))
}
