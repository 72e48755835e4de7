package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// fileConfig is the CLI's yaml config file. Every field has a flag override.
type fileConfig struct {
	// Server is the REST base URL.
	Server string `yaml:"server"`
	// Socket is the WebSocket URL. Derived from Server when empty.
	Socket string `yaml:"socket"`
	// Name is the account to log in as.
	Name string `yaml:"name"`
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "tether", "config.yaml")
}

// loadConfig reads the config file named by --config, falling back to the
// default path. A missing default file is not an error; a missing explicit
// file is.
func loadConfig(cmd *cobra.Command) (*fileConfig, error) {
	cfg := &fileConfig{
		Server: "http://localhost:8787",
	}

	path, _ := cmd.Flags().GetString("config")
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case os.IsNotExist(err) && !explicit:
			// Defaults only.
		default:
			return nil, err
		}
	}

	if cfg.Socket == "" {
		cfg.Socket = deriveSocketURL(cfg.Server)
	}
	return cfg, nil
}

func deriveSocketURL(server string) string {
	switch {
	case strings.HasPrefix(server, "https://"):
		return "wss://" + strings.TrimPrefix(server, "https://") + "/ws"
	case strings.HasPrefix(server, "http://"):
		return "ws://" + strings.TrimPrefix(server, "http://") + "/ws"
	default:
		return server + "/ws"
	}
}
