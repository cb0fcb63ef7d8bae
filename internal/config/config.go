package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/moely/inbox/internal/gateway/sqlgw"
	"github.com/moely/inbox/internal/outbox"
)

// Config is the global ~/.inbox/config.toml, optionally overlaid by a
// session's session.toml.
type Config struct {
	DefaultSession string       `toml:"default_session"`
	Identity       Identity     `toml:"identity"`
	Gateway        Gateway      `toml:"gateway"`
	Realtime       Realtime     `toml:"realtime"`
	Conversation   Conversation `toml:"conversation"`
	Contacts       Contacts     `toml:"contacts"`
	View           View         `toml:"view"`
}

type Identity struct {
	Email string `toml:"email"`
	// AutoRegister creates the profile on first start when it does not exist.
	AutoRegister bool `toml:"auto_register"`
}

type Gateway struct {
	Driver string `toml:"driver"`
	// DSN is empty for the session's own sqlite file.
	DSN          string   `toml:"dsn"`
	PollInterval Duration `toml:"poll_interval"`
}

type Realtime struct {
	BackoffInitial Duration `toml:"backoff_initial"`
	BackoffMax     Duration `toml:"backoff_max"`
	UpdateDebounce Duration `toml:"update_debounce"`
}

type Conversation struct {
	FetchTimeout      Duration `toml:"fetch_timeout"`
	AckTimeout        Duration `toml:"ack_timeout"`
	SendFailurePolicy string   `toml:"send_failure_policy"`
	SendMaxAttempts   int      `toml:"send_max_attempts"`
}

type Contacts struct {
	SystemLabel        string `toml:"system_label"`
	EmptyNotifications string `toml:"empty_notifications"`
}

type View struct {
	// OpenOnStart starts the messaging view when the daemon boots.
	OpenOnStart bool `toml:"open_on_start"`
}

// Duration is a time.Duration written as a string such as "500ms".
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

// Default returns a config with every value set.
func Default() *Config {
	return &Config{
		Identity: Identity{AutoRegister: true},
		Gateway: Gateway{
			Driver:       string(sqlgw.SQLite),
			PollInterval: Duration{250 * time.Millisecond},
		},
		Realtime: Realtime{
			BackoffInitial: Duration{500 * time.Millisecond},
			BackoffMax:     Duration{30 * time.Second},
			UpdateDebounce: Duration{300 * time.Millisecond},
		},
		Conversation: Conversation{
			FetchTimeout:      Duration{10 * time.Second},
			AckTimeout:        Duration{10 * time.Second},
			SendFailurePolicy: string(outbox.Keep),
			SendMaxAttempts:   3,
		},
		Contacts: Contacts{
			SystemLabel:        "Notifications",
			EmptyNotifications: "No notifications yet",
		},
		View: View{OpenOnStart: true},
	}
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	if _, err := sqlgw.ParseDialect(c.Gateway.Driver); err != nil {
		return err
	}
	if c.Gateway.Driver == string(sqlgw.Postgres) && c.Gateway.DSN == "" {
		return errors.New("gateway.dsn is required for the postgres driver")
	}
	if _, err := outbox.ParsePolicy(c.Conversation.SendFailurePolicy); err != nil {
		return err
	}
	if c.Conversation.SendMaxAttempts < 1 {
		return fmt.Errorf("conversation.send_max_attempts must be at least 1, got %d", c.Conversation.SendMaxAttempts)
	}
	durations := map[string]Duration{
		"gateway.poll_interval":      c.Gateway.PollInterval,
		"realtime.backoff_initial":   c.Realtime.BackoffInitial,
		"realtime.backoff_max":       c.Realtime.BackoffMax,
		"realtime.update_debounce":   c.Realtime.UpdateDebounce,
		"conversation.fetch_timeout": c.Conversation.FetchTimeout,
		"conversation.ack_timeout":   c.Conversation.AckTimeout,
	}
	for name, d := range durations {
		if d.Duration <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Realtime.BackoffMax.Duration < c.Realtime.BackoffInitial.Duration {
		return errors.New("realtime.backoff_max must not be below realtime.backoff_initial")
	}
	return nil
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

// LoadLayered starts from Default, applies each existing file in order and
// validates the result. Missing files are skipped.
func LoadLayered(paths ...string) (*Config, error) {
	cfg := Default()
	for _, path := range paths {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
