package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.dmsync/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	return writeTOML(path, cfg)
}

// Profile holds the backend settings of one profile (profile.toml).
type Profile struct {
	APIBaseURL     string      `toml:"api_base_url"`
	HubURL         string      `toml:"hub_url"`
	RequestTimeout Duration    `toml:"request_timeout"`
	Attachments    Attachments `toml:"attachments"`
	Realtime       Realtime    `toml:"realtime"`
}

// Attachments bounds what the send pipeline accepts before contacting the server.
type Attachments struct {
	MaxBytes     int64    `toml:"max_bytes"`
	AllowedTypes []string `toml:"allowed_types"`
}

// Realtime tunes the push channel.
type Realtime struct {
	ReconnectDelays []Duration `toml:"reconnect_delays"`
	KeepAlive       Duration   `toml:"keep_alive"`
	ServerTimeout   Duration   `toml:"server_timeout"`
}

// Duration is a time.Duration written as "30s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DefaultProfile returns the settings used when profile.toml is absent.
func DefaultProfile() *Profile {
	return &Profile{
		APIBaseURL:     "http://localhost:5000",
		HubURL:         "ws://localhost:5000/chathub",
		RequestTimeout: Duration{30 * time.Second},
		Attachments: Attachments{
			MaxBytes: 10 << 20,
			AllowedTypes: []string{
				"image/jpeg", "image/png", "image/gif", "image/webp",
				"application/pdf", "text/plain", "application/zip",
			},
		},
		Realtime: Realtime{
			ReconnectDelays: []Duration{{0}, {2 * time.Second}, {10 * time.Second}, {30 * time.Second}},
			KeepAlive:       Duration{15 * time.Second},
			ServerTimeout:   Duration{30 * time.Second},
		},
	}
}

// LoadProfile reads profile.toml over the defaults. A missing file yields the defaults.
func LoadProfile(path string) (*Profile, error) {
	p := DefaultProfile()
	if _, err := toml.DecodeFile(path, p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return p, nil
		}
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// SaveProfile writes profile.toml.
func SaveProfile(path string, p *Profile) error {
	return writeTOML(path, p)
}

// Validate rejects settings the daemon cannot run with.
func (p *Profile) Validate() error {
	if p.APIBaseURL == "" {
		return errors.New("api_base_url is required")
	}
	if p.HubURL == "" {
		return errors.New("hub_url is required")
	}
	if p.Attachments.MaxBytes <= 0 {
		return errors.New("attachments.max_bytes must be positive")
	}
	if p.Realtime.ServerTimeout.Duration <= p.Realtime.KeepAlive.Duration {
		return errors.New("realtime.server_timeout must exceed realtime.keep_alive")
	}
	return nil
}

// Delays returns the retry schedule as plain durations.
func (r Realtime) Delays() []time.Duration {
	out := make([]time.Duration, len(r.ReconnectDelays))
	for i, d := range r.ReconnectDelays {
		out[i] = d.Duration
	}
	return out
}

func writeTOML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(v)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
