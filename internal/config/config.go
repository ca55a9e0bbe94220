// Package config loads cubeserver's YAML configuration: the listen
// address, the directory profiles are opened/saved relative to, and the
// highest protocol version the server will negotiate.
package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Config is cubeserver's on-disk configuration document.
type Config struct {
	// ListenAddr is a host:port TCP address, e.g. "0.0.0.0:40120".
	ListenAddr string `yaml:"listen_addr"`
	// ReportRoot is the directory OpenCube/SaveCube/FileSystem requests
	// are resolved against; paths outside it are rejected.
	ReportRoot string `yaml:"report_root"`
	// MaxProtocolVersion caps NegotiateProtocol's server-offered max.
	MaxProtocolVersion uint32 `yaml:"max_protocol_version"`
	// Verbose turns on debug-level logging.
	Verbose bool `yaml:"verbose"`
}

// Default returns the configuration cubeserver runs with absent a file.
func Default() Config {
	return Config{
		ListenAddr:         "127.0.0.1:40120",
		ReportRoot:         ".",
		MaxProtocolVersion: 1,
	}
}

// Load reads and validates a YAML config file at path.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate collects every configuration defect instead of stopping at
// the first, so a misconfigured server reports all of its problems.
func (c Config) Validate() error {
	var errs *multierror.Error
	if c.ListenAddr == "" {
		errs = multierror.Append(errs, fmt.Errorf("listen_addr must not be empty"))
	}
	if c.ReportRoot == "" {
		errs = multierror.Append(errs, fmt.Errorf("report_root must not be empty"))
	}
	if c.MaxProtocolVersion == 0 {
		errs = multierror.Append(errs, fmt.Errorf("max_protocol_version must be at least 1"))
	}
	return errs.ErrorOrNil()
}
