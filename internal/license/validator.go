// Package license provides the license validation collaborator consumed by
// the modelnet core. The JWT-backed implementation verifies HMAC-signed
// license tokens whose claims carry tier, capacity limits, and model grants.
package license

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/modelnet-labs/modelnet/internal/models"
)

// Common errors returned by license validation.
var (
	ErrInvalidLicense   = errors.New("invalid license")
	ErrLicenseExpired   = errors.New("license has expired")
	ErrHardwareMismatch = errors.New("license is bound to different hardware")
)

// Validator is the collaborator interface the core consumes. Implementations
// own license issuance semantics; the core only reads snapshots.
type Validator interface {
	// CurrentLicense returns the most recently validated license snapshot,
	// or nil when no license has been validated.
	CurrentLicense() *models.LicenseInfo
	// Validate verifies a license key and returns its snapshot.
	Validate(key string) (*models.LicenseInfo, error)
}

// Claims is the JWT claims layout of a modelnet license token.
type Claims struct {
	Tier            string   `json:"tier"`
	MaxClients      int      `json:"max_clients"`
	MaxNetworks     int      `json:"max_networks"`
	MaxSessions     int      `json:"max_sessions"`
	AllowedModels   []string `json:"allowed_models"`
	AllowedFeatures []string `json:"allowed_features"`
	HardwareID      string   `json:"hardware_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator validates HMAC-signed license tokens.
type JWTValidator struct {
	secret      []byte
	fingerprint string
	logger      *slog.Logger

	mu      sync.RWMutex
	current *models.LicenseInfo

	now func() time.Time
}

// Config holds JWT validator configuration.
type Config struct {
	// Secret is the HMAC signing secret shared with the license backend.
	Secret []byte
	// Fingerprint is this host's hardware signature. Licenses carrying a
	// hardware_id claim must match it. Empty disables the check.
	Fingerprint string
}

// NewJWTValidator creates a validator for HMAC-signed license tokens.
func NewJWTValidator(cfg *Config, logger *slog.Logger) *JWTValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &JWTValidator{
		secret:      cfg.Secret,
		fingerprint: cfg.Fingerprint,
		logger:      logger,
		now:         time.Now,
	}
}

// CurrentLicense returns the most recently validated license snapshot.
func (v *JWTValidator) CurrentLicense() *models.LicenseInfo {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Validate verifies a license token and returns its snapshot. An expired
// token yields a snapshot with its expiry populated alongside
// ErrLicenseExpired so callers can distinguish expiry from forgery.
func (v *JWTValidator) Validate(key string) (*models.LicenseInfo, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	var claims Claims
	token, err := parser.ParseWithClaims(key, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLicense, err)
	}

	info := &models.LicenseInfo{
		Key:             key,
		Tier:            models.ParseTier(claims.Tier),
		MaxClients:      claims.MaxClients,
		MaxNetworks:     claims.MaxNetworks,
		MaxSessions:     claims.MaxSessions,
		AllowedModels:   claims.AllowedModels,
		AllowedFeatures: claims.AllowedFeatures,
		HardwareID:      claims.HardwareID,
		Valid:           true,
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}

	if claims.HardwareID != "" && v.fingerprint != "" && claims.HardwareID != v.fingerprint {
		return nil, ErrHardwareMismatch
	}

	if !info.ExpiresAt.IsZero() && v.now().After(info.ExpiresAt) {
		return info, ErrLicenseExpired
	}

	return info, nil
}

// Activate validates this node's own license key and makes the snapshot
// current. Keys presented by remote peers go through Validate only and never
// displace the node's license.
func (v *JWTValidator) Activate(key string) (*models.LicenseInfo, error) {
	info, err := v.Validate(key)
	if err != nil {
		return info, err
	}

	v.mu.Lock()
	v.current = info
	v.mu.Unlock()

	v.logger.Info("license activated",
		"tier", info.Tier.String(),
		"max_networks", info.MaxNetworks,
		"expires_at", info.ExpiresAt,
	)
	return info, nil
}

// GenerateToken mints a signed license token for the given snapshot. Used by
// the genlicense tool and tests; production tokens come from the license backend.
func GenerateToken(secret []byte, info *models.LicenseInfo, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Tier:            info.Tier.String(),
		MaxClients:      info.MaxClients,
		MaxNetworks:     info.MaxNetworks,
		MaxSessions:     info.MaxSessions,
		AllowedModels:   info.AllowedModels,
		AllowedFeatures: info.AllowedFeatures,
		HardwareID:      info.HardwareID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing license token: %w", err)
	}
	return signed, nil
}

// Fingerprint derives a stable hardware signature for this host.
func Fingerprint() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	sum := sha256.Sum256([]byte(hostname))
	return hex.EncodeToString(sum[:16])
}
