// Package config loads polaris config from YAML. Env overrides take precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Server holds polarisd settings.
type Server struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`

	// Device tokens, stored as blake2b-256 hex digests mapped to principals.
	Devices []Device `yaml:"devices"`

	// Optional static user -> store grants. Empty means open access.
	Grants map[string][]string `yaml:"grants"`
}

// Device is one registered device credential.
type Device struct {
	TokenDigest string `yaml:"token_digest"`
	User        string `yaml:"user"`
	DeviceID    string `yaml:"device_id"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Daemon holds syncd settings.
type Daemon struct {
	ServerURL    string   `yaml:"server_url"`
	Token        string   `yaml:"token"`
	DBPath       string   `yaml:"db_path"`
	DeviceID     string   `yaml:"device_id"`
	Stores       []string `yaml:"stores"`
	PollInterval Duration `yaml:"poll_interval"`
	ContentDir   string   `yaml:"content_dir"`

	S3 *S3 `yaml:"s3,omitempty"`
}

// S3 selects an S3 content backend instead of the local folder.
type S3 struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// LoadServer reads server config from path (or the default location when
// path is empty). Missing file uses defaults.
// Env overrides: POLARIS_LISTEN_ADDR, POLARIS_DB_PATH.
func LoadServer(path string) (*Server, error) {
	if path == "" {
		path = filepath.Join(xdgConfigHome(), "polaris", "server.yaml")
	}
	c := &Server{
		ListenAddr: "127.0.0.1:8086",
		DBPath:     filepath.Join(xdgDataHome(), "polaris", "polaris.db"),
	}
	b, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	if v := os.Getenv("POLARIS_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("POLARIS_DB_PATH"); v != "" {
		c.DBPath = v
	}
	return c, nil
}

// LoadDaemon reads daemon config from path (or the default location when
// path is empty).
// Env overrides: POLARIS_SERVER_URL, POLARIS_TOKEN, POLARIS_SYNC_DB_PATH.
func LoadDaemon(path string) (*Daemon, error) {
	if path == "" {
		path = filepath.Join(xdgConfigHome(), "polaris", "syncd.yaml")
	}
	c := &Daemon{
		ServerURL:    "http://127.0.0.1:8086",
		DBPath:       filepath.Join(xdgDataHome(), "polaris", "syncd.db"),
		PollInterval: Duration(30 * time.Second),
		ContentDir:   filepath.Join(xdgDataHome(), "polaris", "content"),
	}
	b, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	if v := os.Getenv("POLARIS_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("POLARIS_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("POLARIS_SYNC_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if c.PollInterval <= 0 {
		c.PollInterval = Duration(30 * time.Second)
	}
	return c, nil
}

func xdgDataHome() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share")
}

func xdgConfigHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config")
}
