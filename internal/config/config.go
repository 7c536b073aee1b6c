package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the gateway configuration
type Config struct {
	General  GeneralConfig  `toml:"general"`
	Logging  LoggingConfig  `toml:"logging"`
	Limits   LimitsConfig   `toml:"limits"`
	Transfer TransferConfig `toml:"transfer"`
	Dispatch DispatchConfig `toml:"dispatch"`
	Accounts []Account      `toml:"accounts"`
}

// GeneralConfig contains general engine settings
type GeneralConfig struct {
	DataDir     string `toml:"data_dir"`
	DownloadDir string `toml:"download_dir"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level   string `toml:"level"`
	File    string `toml:"file"`
	Console bool   `toml:"console"`
}

// LimitsConfig contains rate limiter settings
type LimitsConfig struct {
	// WindowMS is the sliding window length in milliseconds
	WindowMS int `toml:"window_ms"`

	// MaxPerWindow is the number of messages admitted per window
	MaxPerWindow int `toml:"max_per_window"`

	// MaxViolations is the number of rejected windows before a block
	MaxViolations int `toml:"max_violations"`

	// BlockMS is the block duration in milliseconds
	BlockMS int `toml:"block_ms"`
}

// TransferConfig contains file transfer settings
type TransferConfig struct {
	// MaxInboundSize is the largest SI offer accepted, in bytes
	MaxInboundSize int64 `toml:"max_inbound_size"`
}

// DispatchConfig configures the host dispatch collaborator
type DispatchConfig struct {
	// Plugin is the path to the gateway plugin binary. Empty disables
	// forwarding; commands still work locally.
	Plugin string `toml:"plugin"`

	// TimeoutMS bounds how long the engine waits for a reply
	TimeoutMS int `toml:"timeout_ms"`
}

// VCardDefaults seeds the account vCard when the server holds none
type VCardDefaults struct {
	FN       string `toml:"fn"`
	Nickname string `toml:"nickname"`
	URL      string `toml:"url"`
	Desc     string `toml:"desc"`
}

// Account represents one XMPP account the engine runs
type Account struct {
	JID      string `toml:"jid"`
	Password string `toml:"password"`

	// PasswordEncrypted holds an armored ciphertext produced by the
	// secret package; it takes precedence over Password and requires
	// KeyFile.
	PasswordEncrypted string `toml:"password_encrypted"`
	KeyFile           string `toml:"key_file"`

	Server   string `toml:"server"`
	Port     int    `toml:"port"`
	Resource string `toml:"resource"`

	// Nick is the default MUC nickname
	Nick string `toml:"nick"`

	// AdminJID seeds the admin set
	AdminJID string `toml:"admin_jid"`

	// Rooms are joined automatically at session start
	Rooms []string `toml:"rooms"`

	// UploadService overrides the XEP-0363 service JID
	// (default upload.<domain>)
	UploadService string `toml:"upload_service"`

	VCard VCardDefaults `toml:"vcard"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		Limits: LimitsConfig{
			WindowMS:      10000,
			MaxPerWindow:  10,
			MaxViolations: 3,
			BlockMS:       300000,
		},
		Transfer: TransferConfig{
			MaxInboundSize: 10 * 1024 * 1024,
		},
		Dispatch: DispatchConfig{
			TimeoutMS: 30000,
		},
	}
}

// Load loads the configuration from the given path and fills in defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.General.DataDir == "" {
		cfg.General.DataDir = defaultDataDir()
	}
	cfg.General.DataDir = expandPath(cfg.General.DataDir)

	if cfg.General.DownloadDir == "" {
		cfg.General.DownloadDir = filepath.Join(cfg.General.DataDir, "downloads")
	}
	cfg.General.DownloadDir = expandPath(cfg.General.DownloadDir)

	if cfg.Logging.File != "" {
		cfg.Logging.File = expandPath(cfg.Logging.File)
	}

	for i := range cfg.Accounts {
		acc := &cfg.Accounts[i]
		if acc.JID == "" {
			return nil, fmt.Errorf("account %d: missing jid", i)
		}
		if acc.Port == 0 {
			acc.Port = 5222
		}
		if acc.Resource == "" {
			acc.Resource = "xmppgate"
		}
		if acc.Nick == "" {
			acc.Nick = localpart(acc.JID)
		}
		if acc.KeyFile != "" {
			acc.KeyFile = expandPath(acc.KeyFile)
		}
	}

	return cfg, nil
}

// EnsureDirectories creates the data and download directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.General.DataDir, c.General.DownloadDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func defaultDataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "xmppgate")
}

func localpart(jid string) string {
	if i := strings.IndexByte(jid, '@'); i > 0 {
		return jid[:i]
	}
	return jid
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
