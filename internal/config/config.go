package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	DefaultBoxName      = "blog"
	DefaultBarPath      = "__/app.bar"
	DefaultTemplatePath = "__template/index.html"
	DefaultRedirectPath = "/__/auth/receive_redirect"
	DefaultCallbackAddr = "127.0.0.1:7335"
	DefaultPreviewAddr  = "127.0.0.1:7334"
	DefaultDataDirName  = ".draftcell"
	DefaultLogLevel     = "info"

	DefaultHTTPTimeout         = 30 * time.Second
	DefaultInstallPollInterval = 500 * time.Millisecond
	DefaultInstallTimeout      = 30 * time.Second

	configFileName           = ".draftcell.toml"
	dotenvFileName           = ".env"
	configDirEnvKey          = "DRAFTCELL_CONFIG_DIR"
	trustProjectConfigEnvKey = "DRAFTCELL_TRUST_PROJECT_CONFIG"
)

// Duration is a time.Duration that reads and writes as a Go duration string.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// InstallConfig tunes the box install status poll.
type InstallConfig struct {
	PollInterval Duration `toml:"poll_interval"`
	Timeout      Duration `toml:"timeout"`
}

// Config defines runtime configuration for draftcell.
type Config struct {
	AppCellURL   string        `toml:"app_cell_url"`
	CellURL      string        `toml:"cell_url"`
	BoxName      string        `toml:"box_name"`
	BoxSchemaURL string        `toml:"box_schema_url"`
	BarPath      string        `toml:"bar_path"`
	TemplatePath string        `toml:"template_path"`
	RedirectPath string        `toml:"redirect_path"`
	CallbackAddr string        `toml:"callback_addr"`
	PreviewAddr  string        `toml:"preview_addr"`
	DataDir      string        `toml:"data_dir"`
	LogLevel     string        `toml:"log_level"`
	HTTPTimeout  Duration      `toml:"http_timeout"`
	Install      InstallConfig `toml:"install"`

	TrustedProjectConfigPath string `toml:"-"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		BoxName:      DefaultBoxName,
		BarPath:      DefaultBarPath,
		TemplatePath: DefaultTemplatePath,
		RedirectPath: DefaultRedirectPath,
		CallbackAddr: DefaultCallbackAddr,
		PreviewAddr:  DefaultPreviewAddr,
		LogLevel:     DefaultLogLevel,
		HTTPTimeout:  Duration{DefaultHTTPTimeout},
		Install: InstallConfig{
			PollInterval: Duration{DefaultInstallPollInterval},
			Timeout:      Duration{DefaultInstallTimeout},
		},
	}
}

// DBPath is the SQLite file inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "draftcell.db")
}

// BlobDir is the image blob root inside the data directory.
func (c *Config) BlobDir() string {
	return filepath.Join(c.DataDir, "blobs")
}

func loadFile(path string, cfg *Config) error {
	_, err := loadFileIfExists(path, cfg)
	return err
}

func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return true, nil
}

func overrideConfigPath() (string, bool) {
	dir := strings.TrimSpace(os.Getenv(configDirEnvKey))
	if dir == "" {
		return "", false
	}
	return filepath.Join(dir, configFileName), true
}

func trustProjectConfig() bool {
	raw := strings.TrimSpace(os.Getenv(trustProjectConfigEnvKey))
	if raw == "" {
		return false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return value
}

var allowedKeys = []string{
	"app_cell_url",
	"cell_url",
	"box_name",
	"box_schema_url",
	"bar_path",
	"template_path",
	"redirect_path",
	"callback_addr",
	"preview_addr",
	"data_dir",
	"log_level",
	"http_timeout",
	"install.poll_interval",
	"install.timeout",
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	for _, k := range allowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "app_cell_url":
		return c.AppCellURL, nil
	case "cell_url":
		return c.CellURL, nil
	case "box_name":
		return c.BoxName, nil
	case "box_schema_url":
		return c.BoxSchemaURL, nil
	case "bar_path":
		return c.BarPath, nil
	case "template_path":
		return c.TemplatePath, nil
	case "redirect_path":
		return c.RedirectPath, nil
	case "callback_addr":
		return c.CallbackAddr, nil
	case "preview_addr":
		return c.PreviewAddr, nil
	case "data_dir":
		return c.DataDir, nil
	case "log_level":
		return c.LogLevel, nil
	case "http_timeout":
		return c.HTTPTimeout.String(), nil
	case "install.poll_interval":
		return c.Install.PollInterval.String(), nil
	case "install.timeout":
		return c.Install.Timeout.String(), nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

// GlobalPath returns the path to the global config file.
func GlobalPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configFileName), nil
}

// ProjectPath returns the path to the project config file.
func ProjectPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, configFileName), nil
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	parsedValue, err := parseSetValue(key, value)
	if err != nil {
		return err
	}
	if err := setNestedKey(data, strings.Split(key, "."), parsedValue); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

// Load reads .env, then config from trusted files, then applies env
// overrides.
func Load() (*Config, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}

	cfg := Default()

	if overridePath, ok := overrideConfigPath(); ok {
		if err := loadFile(overridePath, &cfg); err != nil {
			return nil, err
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			if err := loadFile(filepath.Join(home, configFileName), &cfg); err != nil {
				return nil, err
			}
		}

		if trustProjectConfig() {
			if cwd, err := os.Getwd(); err == nil {
				projectPath := filepath.Join(cwd, configFileName)
				info, statErr := os.Stat(projectPath)
				switch {
				case statErr == nil && !info.IsDir():
					if err := loadFile(projectPath, &cfg); err != nil {
						return nil, err
					}
					cfg.TrustedProjectConfigPath = projectPath
				case statErr != nil && !os.IsNotExist(statErr):
					return nil, statErr
				}
			}
		}
	}

	if v := strings.TrimSpace(os.Getenv("DRAFTCELL_APP_CELL_URL")); v != "" {
		cfg.AppCellURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DRAFTCELL_CELL_URL")); v != "" {
		cfg.CellURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DRAFTCELL_BOX_NAME")); v != "" {
		cfg.BoxName = v
	}
	if v := strings.TrimSpace(os.Getenv("DRAFTCELL_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("DRAFTCELL_HTTP_TIMEOUT")); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("DRAFTCELL_HTTP_TIMEOUT: %w", err)
		}
		cfg.HTTPTimeout = Duration{parsed}
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotenv reads .env from the working directory. Variables already present
// in the environment win.
func loadDotenv() error {
	cwd, err := os.Getwd()
	if err != nil {
		return nil
	}
	path := filepath.Join(cwd, dotenvFileName)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func (c *Config) normalize() error {
	c.AppCellURL = ensureTrailingSlash(c.AppCellURL)
	c.CellURL = ensureTrailingSlash(c.CellURL)
	c.BoxSchemaURL = ensureTrailingSlash(c.BoxSchemaURL)
	if strings.TrimSpace(c.BoxName) == "" {
		c.BoxName = DefaultBoxName
	}
	if strings.TrimSpace(c.BarPath) == "" {
		c.BarPath = DefaultBarPath
	}
	if strings.TrimSpace(c.TemplatePath) == "" {
		c.TemplatePath = DefaultTemplatePath
	}
	if strings.TrimSpace(c.RedirectPath) == "" {
		c.RedirectPath = DefaultRedirectPath
	}
	if strings.TrimSpace(c.CallbackAddr) == "" {
		c.CallbackAddr = DefaultCallbackAddr
	}
	if strings.TrimSpace(c.PreviewAddr) == "" {
		c.PreviewAddr = DefaultPreviewAddr
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.HTTPTimeout.Duration <= 0 {
		c.HTTPTimeout = Duration{DefaultHTTPTimeout}
	}
	if c.Install.PollInterval.Duration <= 0 {
		c.Install.PollInterval = Duration{DefaultInstallPollInterval}
	}
	if c.Install.Timeout.Duration <= 0 {
		c.Install.Timeout = Duration{DefaultInstallTimeout}
	}
	if c.DataDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			c.DataDir = filepath.Join(cwd, DefaultDataDirName)
		}
	}
	for _, raw := range []string{c.AppCellURL, c.CellURL, c.BoxSchemaURL} {
		if raw == "" {
			continue
		}
		if err := validateCellURL(raw); err != nil {
			return err
		}
	}
	return nil
}

func ensureTrailingSlash(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasSuffix(raw, "/") {
		return raw
	}
	return raw + "/"
}

func validateCellURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid cell url %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid cell url %q: must be an absolute http(s) url", raw)
	}
	return nil
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch key {
	case "http_timeout", "install.poll_interval", "install.timeout":
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive duration such as 500ms or 30s", key)
		}
		return parsed.String(), nil
	case "app_cell_url", "cell_url", "box_schema_url":
		normalized := ensureTrailingSlash(value)
		if err := validateCellURL(normalized); err != nil {
			return nil, err
		}
		return normalized, nil
	case "log_level":
		switch strings.ToLower(value) {
		case "debug", "info", "warn", "warning", "error":
			return strings.ToLower(value), nil
		default:
			return nil, fmt.Errorf("log_level must be one of debug, info, warn, error")
		}
	default:
		return value, nil
	}
}

func setNestedKey(data map[string]any, parts []string, value any) error {
	if len(parts) == 0 {
		return fmt.Errorf("invalid config key")
	}
	if len(parts) == 1 {
		data[parts[0]] = value
		return nil
	}
	childRaw, ok := data[parts[0]]
	if !ok {
		child := map[string]any{}
		data[parts[0]] = child
		return setNestedKey(child, parts[1:], value)
	}
	child, ok := childRaw.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot set nested key %q", strings.Join(parts, "."))
	}
	return setNestedKey(child, parts[1:], value)
}
