package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gdamore/tcell/v2"
	"gopkg.in/yaml.v3"
)

const (
	AppName        = "Lofi CLI"
	AppTagline     = "Endless lofi radio for the terminal"
	AppDescription = "A terminal player streaming an endless random queue of lofi tracks"
	AppProjectURL  = "https://github.com/driftaudio/lofi-cli"

	ConfigDir      = ".config/lofi"
	ConfigFileName = "config.yml"
	DefaultVolume  = 70
	MinVolume      = 0
	MaxVolume      = 100

	// EnvCatalogURL and EnvVolume override the config file; CLI flags
	// override both.
	EnvCatalogURL = "LOFI_CATALOG_URL"
	EnvVolume     = "LOFI_VOLUME"
)

// ClampVolume ensures volume is within the valid range [0, 100].
func ClampVolume(volume int) int {
	if volume < MinVolume {
		return MinVolume
	}
	if volume > MaxVolume {
		return MaxVolume
	}
	return volume
}

// AppVersion can be overridden at build time using ldflags:
// go build -ldflags "-X github.com/driftaudio/lofi-cli/internal/config.AppVersion=1.0.0"
var AppVersion = "dev"

type Theme struct {
	Background string `yaml:"background"`
	Foreground string `yaml:"foreground"`
	Borders    string `yaml:"borders"`
	Highlight  string `yaml:"highlight"`
	HelpText   string `yaml:"help_text"`
	HelpHotkey string `yaml:"help_hotkey"`
}

type Config struct {
	Volume     int    `yaml:"volume"`
	CatalogURL string `yaml:"catalog_url"`
	Theme      Theme  `yaml:"theme"`
}

func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, ConfigDir, ConfigFileName), nil
}

func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return DefaultConfig(), err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Volume = ClampVolume(cfg.Volume)

	return cfg, nil
}

// ApplyEnv overlays environment overrides onto the config. Unset or
// malformed variables leave the config untouched.
func (c *Config) ApplyEnv() {
	if url := os.Getenv(EnvCatalogURL); url != "" {
		c.CatalogURL = url
	}
	if raw := os.Getenv(EnvVolume); raw != "" {
		if volume, err := strconv.Atoi(raw); err == nil {
			c.Volume = ClampVolume(volume)
		}
	}
}

// Save writes the configuration to disk atomically using temp file + rename.
func (c *Config) Save() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpFile, err := os.CreateTemp(configDir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, configPath); err != nil {
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	tmpPath = "" // Prevent defer from removing the final file
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Volume:     DefaultVolume,
		CatalogURL: "",
		Theme: Theme{
			Background: "#1a1b25",
			Foreground: "#a3aacb",
			Borders:    "#40445b",
			Highlight:  "#ff9d65",
			HelpText:   "#9aa3c6",
			HelpHotkey: "#ff9d65",
		},
	}
}

func GetColor(colorStr string) tcell.Color {
	if colorStr == "" || colorStr == "default" {
		return tcell.ColorDefault
	}
	return tcell.GetColor(colorStr)
}
