package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	appLog "agendacal/internal/log"
	"agendacal/internal/model"
)

// CalendarConfig describes a single subscribed calendar feed.
type CalendarConfig struct {
	// Name is the unique, user-facing label attached to occurrences.
	Name string `yaml:"name"`
	// URL is the ICS endpoint.
	URL string `yaml:"url"`
}

// Config is the top-level application configuration.
type Config struct {
	// Timezone is the IANA display zone (e.g. "Europe/Berlin").
	// Empty means the system local zone.
	Timezone string `yaml:"timezone"`

	// HorizonDays is the default window for the view command.
	HorizonDays int `yaml:"horizon_days"`

	// RemindMinutes is the default lead window for the remind command.
	RemindMinutes int `yaml:"remind_minutes"`

	// WatchCron is the schedule for `remind --watch` (robfig/cron syntax,
	// "@every 2m" style descriptors included).
	WatchCron string `yaml:"watch_cron"`

	// FetchTimeoutSeconds bounds each feed fetch.
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds"`

	// LedgerPath is the reminder ledger database location. A leading "~"
	// is expanded to the user's home directory.
	LedgerPath string `yaml:"ledger_path"`

	// Calendars is the ordered list of subscribed feeds.
	Calendars []CalendarConfig `yaml:"calendars"`
}

// DefaultConfig returns an in-memory default configuration. The horizon
// and reminder defaults match the classic agenda tool (5 days, 10 min,
// 2 min refresh).
func DefaultConfig() *Config {
	return &Config{
		Timezone:            "",
		HorizonDays:         5,
		RemindMinutes:       10,
		WatchCron:           "@every 2m",
		FetchTimeoutSeconds: 15,
		LedgerPath:          "~/.local/share/agendacal/reminders.db",
		Calendars:           []CalendarConfig{},
	}
}

// Normalize fills in missing/zero values and drops malformed calendar
// entries. A bad entry is reported and skipped, never fatal to the list.
func (c *Config) Normalize() {
	if c.HorizonDays <= 0 {
		c.HorizonDays = 5
	}
	if c.RemindMinutes <= 0 {
		c.RemindMinutes = 10
	}
	if c.WatchCron == "" {
		c.WatchCron = "@every 2m"
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = 15
	}
	if c.LedgerPath == "" {
		c.LedgerPath = "~/.local/share/agendacal/reminders.db"
	}

	kept := make([]CalendarConfig, 0, len(c.Calendars))
	seen := make(map[string]bool, len(c.Calendars))
	for i, cal := range c.Calendars {
		cal.Name = strings.TrimSpace(cal.Name)
		cal.URL = strings.TrimSpace(cal.URL)
		switch {
		case cal.Name == "" || cal.URL == "":
			appLog.Warn("config: dropping calendar entry with empty name or url", "index", i)
		case seen[cal.Name]:
			appLog.Warn("config: dropping calendar entry with duplicate name", "index", i, "name", cal.Name)
		default:
			seen[cal.Name] = true
			kept = append(kept, cal)
		}
	}
	c.Calendars = kept
}

// Sources returns the configured calendars as engine input.
func (c *Config) Sources() []model.Source {
	out := make([]model.Source, 0, len(c.Calendars))
	for _, cal := range c.Calendars {
		out = append(out, model.Source{Name: cal.Name, URL: cal.URL})
	}
	return out
}

// Location resolves the configured display timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// FetchTimeout returns the per-fetch timeout as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// LedgerFile returns LedgerPath with "~" expanded.
func (c *Config) LedgerFile() (string, error) {
	p := c.LedgerPath
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
	}
	return p, nil
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "agendacal.yaml"
	}
	return filepath.Join(home, ".config", "agendacal", "config.yaml")
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist: write a default config (0600, parent
//     dirs created) and return it.
//   - If the file exists: unmarshal and normalize.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
// Writes atomically via a temp file + rename, final permissions 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".agendacal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}
