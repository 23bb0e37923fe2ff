package main

import (
	"fmt"
	"os"

	"github.com/naoina/toml"

	"github.com/parsdextra/nanoreth/core/gascall"
	"github.com/parsdextra/nanoreth/core/gascall/audit"
)

// config is the full daemon configuration, loadable from a TOML file and
// overridable per field through CLI flags.
type config struct {
	Gascall gascall.Config
	Audit   audit.Config
	Node    nodeConfig
}

// nodeConfig holds the daemon's own endpoints.
type nodeConfig struct {
	UpstreamURL   string   // engine JSON-RPC endpoint the controller fronts
	HTTPHost      string
	HTTPPort      int
	CORSDomains   []string
	StatsInterval int // seconds between gate stats log lines; 0 disables
}

func defaultConfig() config {
	return config{
		Gascall: gascall.DefaultConfig,
		Node: nodeConfig{
			UpstreamURL:   "http://127.0.0.1:8545",
			HTTPHost:      "127.0.0.1",
			HTTPPort:      8547,
			StatsInterval: 60,
		},
	}
}

// loadConfig reads a TOML file over the defaults. Unknown keys are rejected
// so a typo in an operator's file fails loudly at startup.
func loadConfig(path string, cfg *config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := toml.NewDecoder(f).Decode(cfg); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
