package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tidwall/jsonc"
)

// DefaultUndoSendMaxChars is the partial-output length at or below which a
// cancelled send counts as instantly undone.
const DefaultUndoSendMaxChars = 50

// Config holds the runtime settings the session core consumes.
type Config struct {
	LogLevel string `json:"log_level,omitempty"`
	DataDir  string `json:"data_dir,omitempty"`

	// SessionRecap controls digest generation for runs that finish while
	// the session is not on screen.
	SessionRecap RecapConfig `json:"session_recap,omitempty"`

	// Sounds names the notification sounds played on run completion.
	Sounds SoundConfig `json:"sounds,omitempty"`

	// UndoSendMaxChars is the cancellation undo threshold.
	UndoSendMaxChars int `json:"undo_send_max_chars,omitempty"`

	// Server configures the local event relay for secondary clients.
	Server ServerConfig `json:"server,omitempty"`

	// Backend configures the agent subprocess.
	Backend BackendConfig `json:"backend,omitempty"`
}

// BackendConfig names the agent binary and its fixed arguments.
type BackendConfig struct {
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
}

// RecapConfig controls digest generation.
type RecapConfig struct {
	Enabled bool   `json:"enabled"`
	Model   string `json:"model,omitempty"`
}

// SoundConfig names notification sounds. Empty disables a sound.
type SoundConfig struct {
	Waiting string `json:"waiting,omitempty"`
	Review  string `json:"review,omitempty"`
}

// ServerConfig configures the local SSE relay.
type ServerConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:         "info",
		SessionRecap:     RecapConfig{Enabled: true},
		UndoSendMaxChars: DefaultUndoSendMaxChars,
		Server:           ServerConfig{Addr: "127.0.0.1:4517"},
		Backend:          BackendConfig{Command: "claude"},
	}
}

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/agentdesk/)
// 2. Project config (<dir>/.agentdesk/)
// 3. AGENTDESK_CONFIG file
// 4. AGENTDESK_CONFIG_CONTENT inline JSON
// 5. Environment variables
func Load(directory string) (*Config, error) {
	cfg := DefaultConfig()

	loaded := make(map[string]bool)
	loadOnce := func(path string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, cfg) == nil {
			loaded[absPath] = true
		}
	}

	// 1. Global config
	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "agentdesk.json"))
	loadOnce(filepath.Join(globalPath, "agentdesk.jsonc"))

	// 2. Project config
	if directory != "" {
		loadOnce(filepath.Join(directory, ".agentdesk", "agentdesk.json"))
		loadOnce(filepath.Join(directory, ".agentdesk", "agentdesk.jsonc"))
	}

	// 3. AGENTDESK_CONFIG file override
	if configPath := os.Getenv("AGENTDESK_CONFIG"); configPath != "" {
		loadOnce(configPath)
	}

	// 4. AGENTDESK_CONFIG_CONTENT inline JSON
	if content := os.Getenv("AGENTDESK_CONFIG_CONTENT"); content != "" {
		_ = json.Unmarshal(jsonc.ToJSON([]byte(content)), cfg)
	}

	// 5. Environment variables (highest priority)
	applyEnvOverrides(cfg)

	if cfg.UndoSendMaxChars <= 0 {
		cfg.UndoSendMaxChars = DefaultUndoSendMaxChars
	}

	return cfg, nil
}

// loadConfigFile loads a single JSON/JSONC config file over cfg.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonc.ToJSON(data), cfg)
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTDESK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("AGENTDESK_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("AGENTDESK_RECAP_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SessionRecap.Enabled = b
		}
	}
	if v := os.Getenv("AGENTDESK_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
		cfg.Server.Enabled = true
	}
}
