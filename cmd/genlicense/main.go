// Package main provides a simple tool to mint signed modelnet license tokens
// for development and testing.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/modelnet-labs/modelnet/internal/license"
	"github.com/modelnet-labs/modelnet/internal/models"
)

func main() {
	tier := flag.String("tier", "free", "License tier (free, pro, enterprise)")
	maxClients := flag.Int("max-clients", 5, "Maximum concurrent clients")
	maxNetworks := flag.Int("max-networks", 1, "Maximum concurrent hosted networks")
	maxSessions := flag.Int("max-sessions", 50, "Maximum tracked sessions")
	modelList := flag.String("models", "*", "Comma-separated allowed model ids")
	featureList := flag.String("features", "", "Comma-separated allowed features")
	hardware := flag.String("hardware", "", "Hardware fingerprint to bind (empty: unbound)")
	secret := flag.String("secret", "", "Signing secret (or set LICENSE_SECRET env var)")
	expiry := flag.Duration("expiry", 24*365*time.Hour, "License validity duration")
	flag.Parse()

	signingSecret := *secret
	if signingSecret == "" {
		signingSecret = os.Getenv("LICENSE_SECRET")
	}
	if signingSecret == "" {
		fmt.Fprintln(os.Stderr, "Error: signing secret required. Use -secret flag or set LICENSE_SECRET env var")
		os.Exit(1)
	}
	if len(signingSecret) < 32 {
		fmt.Fprintln(os.Stderr, "Error: signing secret must be at least 32 characters")
		os.Exit(1)
	}

	info := &models.LicenseInfo{
		Tier:            models.ParseTier(*tier),
		MaxClients:      *maxClients,
		MaxNetworks:     *maxNetworks,
		MaxSessions:     *maxSessions,
		AllowedModels:   splitList(*modelList),
		AllowedFeatures: splitList(*featureList),
		HardwareID:      *hardware,
	}

	token, err := license.GenerateToken([]byte(signingSecret), info, *expiry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating license: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
