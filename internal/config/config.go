// Package config loads tool-level settings from an optional TOML file, with
// environment fallbacks for database connection settings.
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
)

// Config carries tool-level defaults. Manifest files control what a run does;
// this controls how the tool itself behaves.
type Config struct {
	RunLogDir    string        // root for persisted run logs
	StepTimeout  time.Duration // default per-step timeout
	RetryMax     int           // default max attempts for retryable steps
	RetryBackoff time.Duration // initial backoff between retries
	TailLines    int           // lines of captured output shown on failure
	Database     Database
}

// Database is the connection target for SQL verification checks.
type Database struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// fileConfig is the groundwork.toml key mapping.
type fileConfig struct {
	RunLogDir    string `toml:"run_log_dir"`
	StepTimeout  string `toml:"step_timeout"`
	RetryMax     int    `toml:"retry_max"`
	RetryBackoff string `toml:"retry_backoff"`
	TailLines    int    `toml:"tail_lines"`

	Database struct {
		Host     string `toml:"host"`
		Port     int    `toml:"port"`
		Name     string `toml:"name"`
		User     string `toml:"user"`
		Password string `toml:"password"`
		SSLMode  string `toml:"sslmode"`
	} `toml:"database"`
}

// Default returns built-in settings with the conventional PGHOST/PGPORT/
// PGDATABASE/PGUSER/PGPASSWORD environment variables applied.
func Default() Config {
	cfg := Config{
		RunLogDir:    filepath.Join(".groundwork", "runs"),
		StepTimeout:  30 * time.Minute,
		RetryMax:     3,
		RetryBackoff: 2 * time.Second,
		TailLines:    20,
		Database: Database{
			Host:    "localhost",
			Port:    5432,
			Name:    "postgres",
			User:    "postgres",
			SSLMode: "disable",
		},
	}
	if v := os.Getenv("PGHOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("PGPORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("PGDATABASE"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("PGUSER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("PGPASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	return cfg
}

// Load decodes a groundwork.toml file and overlays it on the defaults. Only
// keys present in the file override.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("run_log_dir") {
		cfg.RunLogDir = strings.TrimSpace(raw.RunLogDir)
	}
	if meta.IsDefined("step_timeout") {
		d, err := time.ParseDuration(raw.StepTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("load config: step_timeout: %w", err)
		}
		cfg.StepTimeout = d
	}
	if meta.IsDefined("retry_max") {
		if raw.RetryMax < 1 {
			return Config{}, fmt.Errorf("load config: retry_max must be >= 1")
		}
		cfg.RetryMax = raw.RetryMax
	}
	if meta.IsDefined("retry_backoff") {
		d, err := time.ParseDuration(raw.RetryBackoff)
		if err != nil {
			return Config{}, fmt.Errorf("load config: retry_backoff: %w", err)
		}
		cfg.RetryBackoff = d
	}
	if meta.IsDefined("tail_lines") {
		cfg.TailLines = raw.TailLines
	}
	if meta.IsDefined("database", "host") {
		cfg.Database.Host = strings.TrimSpace(raw.Database.Host)
	}
	if meta.IsDefined("database", "port") {
		cfg.Database.Port = raw.Database.Port
	}
	if meta.IsDefined("database", "name") {
		cfg.Database.Name = strings.TrimSpace(raw.Database.Name)
	}
	if meta.IsDefined("database", "user") {
		cfg.Database.User = strings.TrimSpace(raw.Database.User)
	}
	if meta.IsDefined("database", "password") {
		cfg.Database.Password = raw.Database.Password
	}
	if meta.IsDefined("database", "sslmode") {
		cfg.Database.SSLMode = strings.TrimSpace(raw.Database.SSLMode)
	}

	return cfg, nil
}

// DSN renders the connection string for the pgx stdlib driver.
func (d Database) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.User, d.Password)
	} else {
		u.User = url.User(d.User)
	}
	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
