package models

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

// *For any* pair of tiers, AtLeast agrees with the numeric ordering
// free < pro < enterprise.
func TestPropertyTierOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	genTier := gen.OneConstOf(TierFree, TierPro, TierEnterprise)

	properties.Property("AtLeast matches numeric order", prop.ForAll(
		func(a, b LicenseTier) bool {
			return a.AtLeast(b) == (a >= b)
		},
		genTier,
		genTier,
	))

	properties.Property("String and ParseTier round trip", prop.ForAll(
		func(tier LicenseTier) bool {
			return ParseTier(tier.String()) == tier
		},
		genTier,
	))

	properties.TestingRun(t)
}

func TestParseTierUnknownDefaultsToFree(t *testing.T) {
	assert.Equal(t, TierFree, ParseTier("platinum"))
	assert.Equal(t, TierFree, ParseTier(""))
	assert.Equal(t, TierPro, ParseTier("PRO"))
}

func TestLicenseStatusDerivation(t *testing.T) {
	var nilInfo *LicenseInfo
	assert.Equal(t, LicenseStatusMissing, nilInfo.Status())

	invalid := &LicenseInfo{Valid: false}
	assert.Equal(t, LicenseStatusInvalid, invalid.Status())

	expired := &LicenseInfo{Valid: true, ExpiresAt: time.Now().Add(-time.Minute)}
	assert.Equal(t, LicenseStatusExpired, expired.Status())

	valid := &LicenseInfo{Valid: true, ExpiresAt: time.Now().Add(time.Hour)}
	assert.Equal(t, LicenseStatusValid, valid.Status())

	// Zero expiry means no expiry.
	perpetual := &LicenseInfo{Valid: true}
	assert.Equal(t, LicenseStatusValid, perpetual.Status())
}

func TestModelAllowed(t *testing.T) {
	lic := &LicenseInfo{AllowedModels: []string{"llama-7b"}}
	assert.True(t, lic.ModelAllowed("llama-7b"))
	assert.False(t, lic.ModelAllowed("mistral-7b"))

	wildcard := &LicenseInfo{AllowedModels: []string{"*"}}
	assert.True(t, wildcard.ModelAllowed("anything"))

	empty := &LicenseInfo{}
	assert.False(t, empty.ModelAllowed("llama-7b"))
}
