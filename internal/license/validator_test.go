package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelnet-labs/modelnet/internal/models"
)

var testSecret = []byte("test-signing-secret-with-32-chars!!")

func mintToken(t *testing.T, info *models.LicenseInfo, expiry time.Duration) string {
	t.Helper()
	token, err := GenerateToken(testSecret, info, expiry)
	require.NoError(t, err)
	return token
}

func TestValidateRoundTrip(t *testing.T) {
	token := mintToken(t, &models.LicenseInfo{
		Tier:            models.TierPro,
		MaxClients:      10,
		MaxNetworks:     3,
		MaxSessions:     100,
		AllowedModels:   []string{"llama-7b", "mistral-7b"},
		AllowedFeatures: []string{"routing"},
	}, time.Hour)

	v := NewJWTValidator(&Config{Secret: testSecret}, nil)
	info, err := v.Validate(token)
	require.NoError(t, err)

	assert.Equal(t, models.TierPro, info.Tier)
	assert.Equal(t, 10, info.MaxClients)
	assert.Equal(t, 3, info.MaxNetworks)
	assert.Equal(t, 100, info.MaxSessions)
	assert.Equal(t, []string{"llama-7b", "mistral-7b"}, info.AllowedModels)
	assert.True(t, info.FeatureEnabled("routing"))
	assert.True(t, info.Valid)
	assert.Equal(t, token, info.Key)
	assert.Equal(t, models.LicenseStatusValid, info.Status())
}

func TestValidateRejectsBadSignature(t *testing.T) {
	token := mintToken(t, &models.LicenseInfo{Tier: models.TierFree}, time.Hour)

	v := NewJWTValidator(&Config{Secret: []byte("a-completely-different-secret-32ch")}, nil)
	info, err := v.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidLicense)
	assert.Nil(t, info)
}

func TestValidateRejectsGarbage(t *testing.T) {
	v := NewJWTValidator(&Config{Secret: testSecret}, nil)
	_, err := v.Validate("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidLicense)
}

func TestValidateExpiredToken(t *testing.T) {
	token := mintToken(t, &models.LicenseInfo{Tier: models.TierEnterprise}, time.Hour)

	v := NewJWTValidator(&Config{Secret: testSecret}, nil)
	v.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	info, err := v.Validate(token)
	assert.ErrorIs(t, err, ErrLicenseExpired)
	// Expiry is distinguishable from forgery: the snapshot survives so the
	// caller can report tier and expiry.
	require.NotNil(t, info)
	assert.Equal(t, models.TierEnterprise, info.Tier)
	assert.False(t, info.ExpiresAt.IsZero())
}

func TestValidateHardwareBinding(t *testing.T) {
	token := mintToken(t, &models.LicenseInfo{
		Tier:       models.TierPro,
		HardwareID: "fingerprint-a",
	}, time.Hour)

	v := NewJWTValidator(&Config{Secret: testSecret, Fingerprint: "fingerprint-b"}, nil)
	_, err := v.Validate(token)
	assert.ErrorIs(t, err, ErrHardwareMismatch)

	v = NewJWTValidator(&Config{Secret: testSecret, Fingerprint: "fingerprint-a"}, nil)
	_, err = v.Validate(token)
	assert.NoError(t, err)

	// An unbound validator accepts any hardware claim.
	v = NewJWTValidator(&Config{Secret: testSecret}, nil)
	_, err = v.Validate(token)
	assert.NoError(t, err)
}

// Validate never mutates the current license; only Activate does. A peer
// presenting its own key over a session must not displace the node's license.
func TestValidateDoesNotDisplaceCurrent(t *testing.T) {
	v := NewJWTValidator(&Config{Secret: testSecret}, nil)

	ownToken := mintToken(t, &models.LicenseInfo{Tier: models.TierEnterprise}, time.Hour)
	_, err := v.Activate(ownToken)
	require.NoError(t, err)
	require.Equal(t, models.TierEnterprise, v.CurrentLicense().Tier)

	peerToken := mintToken(t, &models.LicenseInfo{Tier: models.TierFree}, time.Hour)
	_, err = v.Validate(peerToken)
	require.NoError(t, err)

	assert.Equal(t, models.TierEnterprise, v.CurrentLicense().Tier)
}

func TestActivateFailureLeavesCurrentNil(t *testing.T) {
	v := NewJWTValidator(&Config{Secret: testSecret}, nil)
	_, err := v.Activate("garbage")
	assert.Error(t, err)
	assert.Nil(t, v.CurrentLicense())
	assert.Equal(t, models.LicenseStatusMissing, v.CurrentLicense().Status())
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint()
	b := Fingerprint()
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}
