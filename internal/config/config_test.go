package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agendacal", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.HorizonDays)
	assert.Equal(t, 10, cfg.RemindMinutes)
	assert.Empty(t, cfg.Calendars)

	// The default file was written with restrictive permissions.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Timezone = "Europe/Berlin"
	cfg.Calendars = []CalendarConfig{
		{Name: "work", URL: "https://example.com/work.ics"},
		{Name: "home", URL: "https://example.com/home.ics"},
	}
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loaded.Timezone)
	require.Len(t, loaded.Calendars, 2)
	assert.Equal(t, "work", loaded.Calendars[0].Name)
}

// Malformed calendar entries are dropped individually, never fatal.
func TestNormalizeDropsBadCalendarEntries(t *testing.T) {
	cfg := &Config{
		Calendars: []CalendarConfig{
			{Name: "work", URL: "https://example.com/work.ics"},
			{Name: "", URL: "https://example.com/anon.ics"},
			{Name: "nourl", URL: ""},
			{Name: "work", URL: "https://example.com/dup.ics"},
			{Name: "home", URL: "https://example.com/home.ics"},
		},
	}
	cfg.Normalize()

	require.Len(t, cfg.Calendars, 2)
	assert.Equal(t, "work", cfg.Calendars[0].Name)
	assert.Equal(t, "home", cfg.Calendars[1].Name)
}

func TestNormalizeFillsDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.Normalize()

	assert.Equal(t, 5, cfg.HorizonDays)
	assert.Equal(t, 10, cfg.RemindMinutes)
	assert.Equal(t, "@every 2m", cfg.WatchCron)
	assert.Equal(t, 15*time.Second, cfg.FetchTimeout())
	assert.NotEmpty(t, cfg.LedgerPath)
}

func TestSources(t *testing.T) {
	cfg := &Config{Calendars: []CalendarConfig{{Name: "work", URL: "https://example.com/w.ics"}}}
	srcs := cfg.Sources()
	require.Len(t, srcs, 1)
	assert.Equal(t, "work", srcs[0].Name)
	assert.Equal(t, "https://example.com/w.ics", srcs[0].URL)
}

func TestLocationDefaultsToLocal(t *testing.T) {
	cfg := &Config{}
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	cfg.Timezone = "Europe/Berlin"
	loc, err = cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())

	cfg.Timezone = "Not/AZone"
	_, err = cfg.Location()
	assert.Error(t, err)
}

func TestLedgerFileExpandsTilde(t *testing.T) {
	cfg := &Config{LedgerPath: "~/.local/share/agendacal/reminders.db"}
	p, err := cfg.LedgerFile()
	require.NoError(t, err)
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local", "share", "agendacal", "reminders.db"), p)

	cfg.LedgerPath = "/var/lib/agendacal/reminders.db"
	p, err = cfg.LedgerFile()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/agendacal/reminders.db", p)
}
