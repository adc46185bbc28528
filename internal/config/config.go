// Package config provides configuration management for the button mapper.
package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Config represents the application configuration
type Config struct {
	// General contains general service settings
	General GeneralConfig `json:"general"`

	// Devices lists the input devices to read from
	Devices []DeviceConfig `json:"devices"`

	// Mappings binds button chords to actions
	Mappings []Mapping `json:"mappings"`
}

// GeneralConfig contains general service settings
type GeneralConfig struct {
	// WindowMs is the chord coincidence window in milliseconds (default: 50)
	WindowMs int `json:"window_ms"`

	// RepeatMs re-emits a held chord every RepeatMs milliseconds. 0 disables
	// repeat emission entirely (the default).
	RepeatMs int `json:"repeat_ms"`

	// Grab takes an exclusive grab on devices so mapped buttons do not also
	// trigger their default OS action. Can be overridden per device.
	Grab bool `json:"grab"`

	// Workers is the size of the pool running commands and builtins (default: 2)
	Workers int `json:"workers"`

	// BuiltinTimeoutMs bounds a single builtin invocation (default: 3000)
	BuiltinTimeoutMs int `json:"builtin_timeout_ms"`

	// ReconnectRetries is how many times a vanished device is re-opened
	// before it is abandoned (default: 5)
	ReconnectRetries int `json:"reconnect_retries"`

	// ReconnectDelayMs is the initial reconnect backoff delay (default: 500)
	ReconnectDelayMs int `json:"reconnect_delay_ms"`

	// APIEnabled enables the HTTP API server used by the configuration tool
	APIEnabled bool `json:"api_enabled"`

	// APIAddr is the listen address for the API server (default: 127.0.0.1:18089)
	APIAddr string `json:"api_addr"`

	// APIToken is an optional authentication token for API requests
	APIToken string `json:"api_token,omitempty"`

	// TrayEnabled shows a system tray icon with pause/reload/quit controls.
	// Off by default so headless service installs are unaffected.
	TrayEnabled bool `json:"tray_enabled"`
}

// DeviceConfig selects one input device to read from
type DeviceConfig struct {
	// Path is the device node (e.g. "/dev/input/event7" or a
	// /dev/input/by-id symlink). The special value "auto" scans for
	// pointing devices with extra buttons.
	Path string `json:"path"`

	// Grab overrides the global grab setting for this device
	Grab *bool `json:"grab,omitempty"`
}

// Mapping binds a button chord to an action
type Mapping struct {
	// Device scopes the mapping to a device name. Empty matches any device.
	Device string `json:"device,omitempty"`

	// Buttons is the chord: one or more key names pressed together
	// (e.g. ["BTN_SIDE"] or ["BTN_SIDE", "BTN_EXTRA"])
	Buttons []string `json:"buttons"`

	// Action is what the chord triggers
	Action Action `json:"action"`
}

// Action describes the effect bound to a chord. Type selects which of the
// remaining fields is meaningful.
type Action struct {
	// Type is "keys", "command" or "builtin"
	Type string `json:"type"`

	// Keys is an ordered list of combo steps for type "keys",
	// e.g. ["KEY_LEFTCTRL+KEY_C"]
	Keys []string `json:"keys,omitempty"`

	// Command is a shell command line for type "command"
	Command string `json:"command,omitempty"`

	// Builtin is a builtin function name for type "builtin" (e.g. "copy")
	Builtin string `json:"builtin,omitempty"`

	// Params holds builtin parameters (e.g. {"text": "..."} for type-text)
	Params map[string]string `json:"params,omitempty"`
}

// DefaultConfig returns a new Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			WindowMs:         50,
			RepeatMs:         0,
			Grab:             true,
			Workers:          2,
			BuiltinTimeoutMs: 3000,
			ReconnectRetries: 5,
			ReconnectDelayMs: 500,
			APIEnabled:       true,
			APIAddr:          "127.0.0.1:18089",
			TrayEnabled:      false,
		},
		Devices: []DeviceConfig{
			{Path: "auto"},
		},
		Mappings: []Mapping{},
	}
}

// Manager handles loading and saving configuration
type Manager struct {
	mu         sync.Mutex
	configPath string
	config     *Config
	onChanged  func()
}

// NewManager creates a new configuration manager. An empty pathOverride
// resolves the default location.
func NewManager(pathOverride string) (*Manager, error) {
	configPath := pathOverride
	if configPath == "" {
		var err error
		configPath, err = getConfigPath()
		if err != nil {
			return nil, err
		}
	}

	return &Manager{
		configPath: configPath,
		config:     DefaultConfig(),
	}, nil
}

// getConfigPath returns the path to the configuration file
func getConfigPath() (string, error) {
	if env := os.Getenv("MICEPIPER_CONFIG"); env != "" {
		return env, nil
	}

	// Reading /dev/input usually means running as root; the system-wide
	// location keeps the service and the config tool looking at one file.
	if os.Geteuid() == 0 {
		configDir := "/etc/micepiper"
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return "", err
		}
		return filepath.Join(configDir, "config.json"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".config", "micepiper")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.json"), nil
}

// Path returns the resolved configuration file path
func (m *Manager) Path() string {
	return m.configPath
}

// Load reads the configuration from disk
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.configPath)
	if os.IsNotExist(err) {
		// No config file, use defaults
		return nil
	}
	if err != nil {
		return err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return err
	}
	m.config = cfg
	if m.onChanged != nil {
		m.onChanged()
	}
	return nil
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return err
	}

	log.Printf("Config: Saving configuration to %s (%d bytes)", m.configPath, len(data))
	return os.WriteFile(m.configPath, data, 0644)
}

// Get returns the current configuration
func (m *Manager) Get() *Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Set updates the configuration
func (m *Manager) Set(config *Config) {
	m.mu.Lock()
	m.config = config
	m.mu.Unlock()
	if m.onChanged != nil {
		m.onChanged()
	}
}

// SetMappings replaces the mapping list (used by the API when the
// configuration tool commits a new mapping)
func (m *Manager) SetMappings(mappings []Mapping) {
	m.mu.Lock()
	cfg := *m.config
	cfg.Mappings = mappings
	m.config = &cfg
	m.mu.Unlock()
	if m.onChanged != nil {
		m.onChanged()
	}
}

// RegisterChangeCallback registers a function to be called when config changes
func (m *Manager) RegisterChangeCallback(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChanged = fn
}

// Window returns the coincidence window in milliseconds, guarding against
// nonsense values.
func (c *Config) Window() int {
	if c.General.WindowMs <= 0 {
		return 50
	}
	return c.General.WindowMs
}

// GrabFor reports whether the device at path should be grabbed exclusively
func (c *Config) GrabFor(path string) bool {
	for i := range c.Devices {
		if c.Devices[i].Path == path && c.Devices[i].Grab != nil {
			return *c.Devices[i].Grab
		}
	}
	return c.General.Grab
}
