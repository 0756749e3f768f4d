package runner

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/modelnet-labs/modelnet/internal/models"
)

// configPatterns are the file name patterns configuration discovery scans for.
var configPatterns = []string{"network_*.json", "network_*.yaml", "network_*.yml"}

// LoadConfigs discovers network configuration files in dir. A file that fails
// to parse or validate is skipped and logged; it never aborts its siblings.
func LoadConfigs(dir string, logger *slog.Logger) []*models.NetworkConfig {
	if logger == nil {
		logger = slog.Default()
	}

	var paths []string
	for _, pattern := range configPatterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			logger.Warn("bad config pattern", "pattern", pattern, "error", err)
			continue
		}
		paths = append(paths, matches...)
	}

	var configs []*models.NetworkConfig
	for _, path := range paths {
		cfg, err := loadConfigFile(path)
		if err != nil {
			logger.Warn("skipping network config", "path", path, "error", err)
			continue
		}
		configs = append(configs, cfg)
	}
	return configs
}

// loadConfigFile parses one configuration file by extension.
func loadConfigFile(path string) (*models.NetworkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg models.NetworkConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing json config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
