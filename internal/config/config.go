// Package config loads and holds qached's process-wide configuration.
// Settings are layered: defaults → qached-config.json → environment
// variables → CLI flags (each layer overrides the previous one). The CLI
// flag layer is applied by cmd/qached, which parses argv and calls
// ApplyFlags; this package owns only the lower three layers plus the
// record itself, per spec.md's "external collaborator" boundary for
// argument parsing.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"

	"github.com/h2owater425/qached/internal/protocol"
)

// Model names the eviction strategy selector (spec.md §3).
type Model string

const (
	ModelDQN Model = "dqn"
	ModelLRU Model = "lru"
	ModelLFU Model = "lfu"
)

// Config holds the full qached configuration (spec.md §3 "Configuration
// record"): read-only, process-wide, after startup.
type Config struct {
	Model     Model  `json:"model"`
	Capacity  int    `json:"capacity"`
	Directory string `json:"directory"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Verbose   bool   `json:"verbose"`

	// AdminPort and AdminToken configure the observability surface
	// (SPEC_FULL.md §3.1); AdminToken empty means no auth is enforced.
	AdminPort  int    `json:"adminPort"`
	AdminToken string `json:"adminToken"`

	// JournalPath is where internal/journal's write-ahead log lives.
	JournalPath string `json:"journalPath"`

	Version  protocol.Version `json:"-"`
	Platform string           `json:"-"`
}

// Version is qached's own release version. It is a package-level var
// (not a const) so it can be overridden via -ldflags in a real build.
var Version = protocol.NewVersion(1, 0, 0)

// Defaults returns a Config populated with spec.md §6's documented
// defaults plus the runtime platform descriptor.
func Defaults() *Config {
	return &Config{
		Model:       ModelDQN,
		Capacity:    128,
		Directory:   "./data",
		Host:        "127.0.0.1",
		Port:        5190,
		Verbose:     false,
		AdminPort:   0,
		AdminToken:  "",
		JournalPath: "./qached-journal.bbolt",
		Version:     Version,
		Platform:    fmt.Sprintf("%s-%s", runtime.GOARCH, runtime.GOOS),
	}
}

// Load returns a Config with defaults overridden by qached-config.json
// (if present) and then by environment variables. CLI flags are applied
// afterward by the caller via ApplyFlags.
func Load() *Config {
	cfg := Defaults()
	loadFile(cfg, "qached-config.json")
	loadEnv(cfg)
	return cfg
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path) //nolint:gosec // G703: controlled config file path, not user input
	if err != nil {
		return // file is optional
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Printf("[CONFIG] Warning: could not parse %s: %v", path, err)
	} else {
		log.Printf("[CONFIG] Loaded %s", path)
	}
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("QACHED_MODEL"); v != "" {
		cfg.Model = Model(v)
	}
	if v := os.Getenv("QACHED_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Capacity = n
		}
	}
	if v := os.Getenv("QACHED_DIRECTORY"); v != "" {
		cfg.Directory = v
	}
	if v := os.Getenv("QACHED_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("QACHED_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("QACHED_VERBOSE"); v == "true" {
		cfg.Verbose = true
	}
	if v := os.Getenv("QACHED_ADMIN_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AdminPort = n
		}
	}
	if v := os.Getenv("QACHED_ADMIN_TOKEN"); v != "" {
		cfg.AdminToken = v
	}
	if v := os.Getenv("QACHED_JOURNAL_PATH"); v != "" {
		cfg.JournalPath = v
	}
}

// ValidModel reports whether name is one of the three accepted model
// selectors, case-insensitively against its lowercase form.
func ValidModel(name string) (Model, bool) {
	switch Model(name) {
	case ModelDQN, ModelLRU, ModelLFU:
		return Model(name), true
	default:
		return "", false
	}
}
