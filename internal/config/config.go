// Package config loads the hub configuration: a JSON file (comments and
// trailing commas allowed), environment overrides and command line
// overrides, applied in that order over built-in defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// FileName is the config file name looked up during discovery.
const FileName = "wa-hub.json"

var (
	// ErrMissingWorker is returned by Validate when no worker URL is set.
	ErrMissingWorker = errors.New("worker URL is not configured")
	// ErrMissingPhoneID is returned by Validate when no phone id is set.
	ErrMissingPhoneID = errors.New("phone_id is not configured")
)

type Config struct {
	BaseDir     string `json:"base_dir"`
	DataDir     string `json:"data_dir"`
	AliasesPath string `json:"aliases_path"`
	GlobalDir   string `json:"global_dir"`
	PerDir      string `json:"per_dir"`
	GlobalName  string `json:"global_name"`
	PerPrefix   string `json:"per_prefix"`
	PerSuffix   string `json:"per_suffix"`
	// GlobalLog is the legacy single-key form of global_dir plus
	// global_name. A bare name only sets the name.
	GlobalLog string `json:"global_log,omitempty"`

	RotateGlobalBytes int64  `json:"rotate_global_bytes"`
	RotatePeerBytes   int64  `json:"rotate_peer_bytes"`
	ArchiveTimeFmt    string `json:"archive_timefmt"`

	MetaLog   string `json:"meta_log"`
	StateFile string `json:"state_file"`

	Worker       string `json:"worker"`
	WorkerToken  string `json:"worker_token,omitempty"`
	PhoneID      string `json:"phone_id"`
	LPTimeoutSec int    `json:"lp_timeout_sec"`
	PullLimit    int    `json:"pull_limit"`

	RetryBackoffMS  int     `json:"retry_backoff_ms"`
	SendRatePerSec  float64 `json:"send_rate_per_sec"`
	SendConcurrency int     `json:"send_concurrency"`
	FIFOName        string  `json:"fifo_name"`
	FIFOPath        string  `json:"fifo_path"`

	ArchiveRetentionDays int    `json:"archive_retention_days"`
	RetentionSchedule    string `json:"retention_schedule"`

	LogLevel string `json:"log_level"`
	HTTP     struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`

	// path is the file the config was read from, empty for defaults.
	path string
}

// Defaults returns a config holding only built-in values.
func Defaults() *Config {
	cfg := &Config{
		BaseDir:           filepath.Join(homeDir(), ".wa-hub"),
		GlobalName:        "events.jsonl",
		PerPrefix:         "events.",
		PerSuffix:         ".jsonl",
		ArchiveTimeFmt:    "%Y%m%d-%H%M%S",
		MetaLog:           "meta.jsonl",
		StateFile:         "state.json",
		LPTimeoutSec:      25,
		PullLimit:         200,
		RetryBackoffMS:    250,
		SendConcurrency:   2,
		FIFOName:          "send.fifo",
		RetentionSchedule: "@daily",
		LogLevel:          "info",
	}
	cfg.HTTP.Listen = "127.0.0.1:8765"
	return cfg
}

// Load builds a config from defaults, the file at path and the
// environment. An empty path skips the file. A missing file is created
// with the defaults. Relative paths inside the file resolve against the
// file's directory.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
			if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
			cfg.resolvePaths(filepath.Dir(path))
		} else if os.IsNotExist(err) {
			if err := writeDefaults(path, cfg); err != nil {
				return nil, err
			}
		} else {
			return nil, fmt.Errorf("stat config: %w", err)
		}
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		cfg.path = path
	}

	cfg.applyEnv()
	cfg.Worker = strings.TrimRight(cfg.Worker, "/")
	return cfg, nil
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	return c.path
}

func (c *Config) configDir() string {
	if c.path == "" {
		return ""
	}
	return filepath.Dir(c.path)
}

func (c *Config) resolvePaths(dir string) {
	for _, p := range []*string{&c.BaseDir, &c.DataDir, &c.AliasesPath, &c.GlobalDir, &c.PerDir, &c.FIFOPath} {
		*p = resolve(dir, *p)
	}
	if strings.ContainsAny(c.GlobalLog, `/\`) {
		c.GlobalLog = resolve(dir, c.GlobalLog)
	}
}

func (c *Config) applyEnv() {
	dir := c.configDir()
	if v := os.Getenv("WA_HUB_BASE"); v != "" {
		c.BaseDir = v
	}
	if v := os.Getenv("WA_HUB_DATA"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("WA_HUB_ALIASES"); v != "" {
		c.AliasesPath = resolve(dir, v)
	}
	if v := os.Getenv("WA_HUB_FIFO"); v != "" {
		c.FIFOPath = resolve(dir, v)
	}
	if v := os.Getenv("WORKER"); v != "" {
		c.Worker = v
	}
	if v := os.Getenv("WA_WORKER_TOKEN"); v != "" {
		c.WorkerToken = v
	}
	if v := os.Getenv("WA_PHONE_ID"); v != "" {
		c.PhoneID = v
	}
	if v := os.Getenv("WA_HUB_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Overrides carries command line values. Zero fields are not applied.
type Overrides struct {
	BaseDir      string
	DataDir      string
	AliasesPath  string
	FIFOPath     string
	Worker       string
	PhoneID      string
	LPTimeoutSec int
	PullLimit    int
	LogLevel     string
}

// Apply sets every non-zero override on c. Relative paths resolve
// against the working directory.
func (c *Config) Apply(o Overrides) {
	setPath := func(dst *string, v string) {
		if v == "" {
			return
		}
		if abs, err := filepath.Abs(v); err == nil {
			v = abs
		}
		*dst = v
	}
	setPath(&c.BaseDir, o.BaseDir)
	setPath(&c.DataDir, o.DataDir)
	setPath(&c.AliasesPath, o.AliasesPath)
	setPath(&c.FIFOPath, o.FIFOPath)
	if o.Worker != "" {
		c.Worker = strings.TrimRight(o.Worker, "/")
	}
	if o.PhoneID != "" {
		c.PhoneID = o.PhoneID
	}
	if o.LPTimeoutSec > 0 {
		c.LPTimeoutSec = o.LPTimeoutSec
	}
	if o.PullLimit > 0 {
		c.PullLimit = o.PullLimit
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
}

// Validate checks what the replication service needs to start.
func (c *Config) Validate() error {
	if c.Worker == "" {
		return ErrMissingWorker
	}
	if c.PhoneID == "" {
		return ErrMissingPhoneID
	}
	switch {
	case c.LPTimeoutSec <= 0:
		return fmt.Errorf("lp_timeout_sec must be positive, got %d", c.LPTimeoutSec)
	case c.PullLimit <= 0:
		return fmt.Errorf("pull_limit must be positive, got %d", c.PullLimit)
	case c.RotateGlobalBytes < 0 || c.RotatePeerBytes < 0:
		return errors.New("rotation thresholds must not be negative")
	case c.SendRatePerSec < 0:
		return fmt.Errorf("send_rate_per_sec must not be negative, got %v", c.SendRatePerSec)
	case c.ArchiveRetentionDays < 0:
		return fmt.Errorf("archive_retention_days must not be negative, got %d", c.ArchiveRetentionDays)
	}
	if c.HTTP.Enabled && c.HTTP.Listen == "" {
		return errors.New("http.listen is required when http.enabled is set")
	}
	return nil
}

// Data returns the data directory, defaulting to the base directory.
func (c *Config) Data() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	return c.BaseDir
}

// GlobalLogPath returns the path of the global event log.
func (c *Config) GlobalLogPath() string {
	dir, name := c.GlobalDir, c.GlobalName
	if c.GlobalLog != "" {
		if strings.ContainsAny(c.GlobalLog, `/\`) {
			dir, name = filepath.Dir(c.GlobalLog), filepath.Base(c.GlobalLog)
		} else {
			name = c.GlobalLog
		}
	}
	if dir == "" {
		dir = c.Data()
	}
	return filepath.Join(dir, name)
}

// PeerDir returns the directory holding per-peer shards.
func (c *Config) PeerDir() string {
	if c.PerDir != "" {
		return c.PerDir
	}
	return c.Data()
}

// AliasesFile returns the alias book path.
func (c *Config) AliasesFile() string {
	if c.AliasesPath != "" {
		return c.AliasesPath
	}
	return filepath.Join(c.BaseDir, "aliases.json")
}

// MetaLogPath returns the send meta log path.
func (c *Config) MetaLogPath() string {
	return resolve(c.Data(), c.MetaLog)
}

// StatePath returns the cursor file path.
func (c *Config) StatePath() string {
	return resolve(c.Data(), c.StateFile)
}

// FIFO returns the send pipe path.
func (c *Config) FIFO() string {
	if c.FIFOPath != "" {
		return c.FIFOPath
	}
	return filepath.Join(c.BaseDir, c.FIFOName)
}

// LPTimeout returns the long-poll wait as a duration.
func (c *Config) LPTimeout() time.Duration {
	return time.Duration(c.LPTimeoutSec) * time.Second
}

// RetryBackoff returns the delay between failed upstream requests.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

// RetentionPeriod returns how long archives are kept; zero keeps them
// forever.
func (c *Config) RetentionPeriod() time.Duration {
	return time.Duration(c.ArchiveRetentionDays) * 24 * time.Hour
}

// Discover returns the first config file found: $WA_HUB_CONFIG,
// ~/.wa-hub/wa-hub.json, ./wa-hub.json, then next to the executable.
// An empty result means no file was found.
func Discover() string {
	if v := os.Getenv("WA_HUB_CONFIG"); v != "" {
		return v
	}
	candidates := []string{
		filepath.Join(homeDir(), ".wa-hub", FileName),
		FileName,
	}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), FileName))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

// Save writes cfg to path atomically.
func Save(path string, cfg *Config) error {
	return writeDefaults(path, cfg)
}

// ToMap converts cfg into a nested map using its JSON field names.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns every key of cfg flattened, masking secrets when
// mask is set.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue loads the config at path and returns the value of key.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	flat, err := ListValues(cfg, false)
	if err != nil {
		return nil, err
	}
	if v, ok := flat[key]; ok {
		return v, nil
	}

	// Keys unknown to Config may still live in the file.
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	if v, ok := Flatten(raw)[key]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("unknown config key: %s", key)
}

// SetValue sets key in the file at path. value is parsed as JSON when
// possible, otherwise stored as a string.
func SetValue(path, key, value string) error {
	raw, err := readRaw(path)
	if err != nil {
		return err
	}

	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil || isStringKey(key) {
		parsed = value
	}

	flat := Flatten(raw)
	flat[key] = parsed
	return writeJSON(path, Unflatten(flat))
}

// isStringKey reports whether key is a string field of Config, so values
// such as a numeric phone id are not stored as JSON numbers.
func isStringKey(key string) bool {
	if IsSecretKey(key) || key == "global_log" {
		return true
	}
	flat, err := ListValues(Defaults(), false)
	if err != nil {
		return false
	}
	_, ok := flat[key].(string)
	return ok
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	raw := make(map[string]any)
	if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return raw, nil
}

func writeDefaults(path string, cfg *Config) error {
	return writeJSON(path, cfg)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

func resolve(dir, p string) string {
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir(), p[2:])
	}
	if p == "" || dir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}
