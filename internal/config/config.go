// Package config loads the taskcore YAML configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DB          DB          `yaml:"db"`
	Redis       Redis       `yaml:"redis"`
	Tasks       Tasks       `yaml:"tasks"`
	Queue       Queue       `yaml:"queue"`
	Scheduled   Scheduled   `yaml:"scheduled"`
	LongRunning LongRunning `yaml:"longrunning"`
	Lock        Lock        `yaml:"lock"`
	HTTP        HTTP        `yaml:"http"`
	Log         Log         `yaml:"log"`
}

type DB struct {
	Path        string `yaml:"path"`
	BusyTimeout string `yaml:"busy_timeout"`

	BusyTimeoutDur time.Duration `yaml:"-"`
}

type Redis struct {
	URL string `yaml:"url"`
}

type Tasks struct {
	Sources []string `yaml:"sources"`
}

type Queue struct {
	Processor string   `yaml:"processor"`
	Queues    []string `yaml:"queues"`
	Poll      string   `yaml:"poll"`
	Workers   int      `yaml:"workers"`

	PollDur time.Duration `yaml:"-"`
}

type Scheduled struct {
	Spec string `yaml:"spec"`
	// ProcessControl is tracker, os or auto. auto uses the tracker for serve
	// and the real process for one-shot commands.
	ProcessControl string `yaml:"process_control"`
	Watch          string `yaml:"watch"`

	WatchDur time.Duration `yaml:"-"`
}

type LongRunning struct {
	Sweep                 string `yaml:"sweep"`
	DefaultExpiryMinutes  int    `yaml:"default_expiry_minutes"`
	DefaultTimeoutSeconds int    `yaml:"default_timeout_seconds"`
}

type Lock struct {
	Driver string `yaml:"driver"`
	TTL    string `yaml:"ttl"`

	TTLDur time.Duration `yaml:"-"`
}

type HTTP struct {
	Addr string `yaml:"addr"`
}

type Log struct {
	Level   string `yaml:"level"`
	Console *bool  `yaml:"console"`
}

// ConsoleOutput reports whether logs go to a human readable console writer.
func (l Log) ConsoleOutput() bool { return l.Console == nil || *l.Console }

// Load reads path. A missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Parse(nil)
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Parse(nil)
	}
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data strictly, applies defaults and validates the result.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("yaml decode: %w", err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DB.Path == "" {
		c.DB.Path = "taskcore.db"
	}
	if c.Queue.Processor == "" {
		c.Queue.Processor = "sqlite"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 4
	}
	if c.Scheduled.Spec == "" {
		c.Scheduled.Spec = "@every 1m"
	}
	if c.Scheduled.ProcessControl == "" {
		c.Scheduled.ProcessControl = "auto"
	}
	if c.LongRunning.Sweep == "" {
		c.LongRunning.Sweep = "@every 5m"
	}
	if c.LongRunning.DefaultExpiryMinutes <= 0 {
		c.LongRunning.DefaultExpiryMinutes = 10080
	}
	if c.LongRunning.DefaultTimeoutSeconds <= 0 {
		c.LongRunning.DefaultTimeoutSeconds = 3600
	}
	if c.Lock.Driver == "" {
		c.Lock.Driver = "local"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks enumerations and parses durations and cron specs.
func (c *Config) Validate() error {
	var errs []error
	var err error

	if c.DB.BusyTimeoutDur, err = parseDuration("db.busy_timeout", c.DB.BusyTimeout, 5*time.Second); err != nil {
		errs = append(errs, err)
	}
	if c.Queue.PollDur, err = parseDuration("queue.poll", c.Queue.Poll, time.Second); err != nil {
		errs = append(errs, err)
	}
	if c.Lock.TTLDur, err = parseDuration("lock.ttl", c.Lock.TTL, 10*time.Minute); err != nil {
		errs = append(errs, err)
	}
	if c.Scheduled.WatchDur, err = parseDuration("scheduled.watch", c.Scheduled.Watch, 2*time.Second); err != nil {
		errs = append(errs, err)
	}

	switch c.Queue.Processor {
	case "sqlite":
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, fmt.Errorf("queue.processor: redis requires redis.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.processor: unknown processor %q", c.Queue.Processor))
	}
	switch c.Lock.Driver {
	case "local":
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, fmt.Errorf("lock.driver: redis requires redis.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("lock.driver: unknown driver %q", c.Lock.Driver))
	}
	switch c.Scheduled.ProcessControl {
	case "auto", "tracker", "os":
	default:
		errs = append(errs, fmt.Errorf("scheduled.process_control: unknown mode %q", c.Scheduled.ProcessControl))
	}

	for _, f := range []struct{ path, spec string }{
		{"scheduled.spec", c.Scheduled.Spec},
		{"longrunning.sweep", c.LongRunning.Sweep},
	} {
		if _, err := cron.ParseStandard(f.spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid cron spec %q: %w", f.path, f.spec, err))
		}
	}
	for i, q := range c.Queue.Queues {
		if strings.TrimSpace(q) == "" {
			errs = append(errs, fmt.Errorf("queue.queues[%d]: empty queue name", i))
		}
	}
	return errors.Join(errs...)
}

func parseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: duration must be > 0", path)
	}
	return d, nil
}
