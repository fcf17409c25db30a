package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// TokenEnv overrides eventbrite.token so the secret can stay out of the file.
	TokenEnv = "EVENTBRITE_TOKEN"
	// OwnerEmailEnv overrides sync.owner_email.
	OwnerEmailEnv = "EVENTBRITE_OWNER_EMAIL"
)

type Eventbrite struct {
	Endpoint string        `yaml:"endpoint"` // https://www.eventbriteapi.com/v3/
	Token    string        `yaml:"token"`
	Timeout  time.Duration `yaml:"timeout"`
}

type Sync struct {
	OwnerEmail string `yaml:"owner_email"` // account that authors mirrored records
	PostType   string `yaml:"post_type"`
	SiteURL    string `yaml:"site_url"` // base for the admin edit link
	Schedule   string `yaml:"schedule"` // cron spec, e.g. "@every 1h"; empty disables
}

type Server struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
}

type Temporal struct {
	HostPort  string `yaml:"host_port"` // empty runs syncs in-process
	Namespace string `yaml:"namespace"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

type Config struct {
	Eventbrite Eventbrite `yaml:"eventbrite"`
	Sync       Sync       `yaml:"sync"`
	Server     Server     `yaml:"server"`
	Temporal   Temporal   `yaml:"temporal"`
	Log        Log        `yaml:"log"`
}

// Default returns the configuration used for any key the file leaves out.
func Default() Config {
	return Config{
		Eventbrite: Eventbrite{
			Endpoint: "https://www.eventbriteapi.com/v3/",
			Timeout:  15 * time.Second,
		},
		Sync: Sync{
			PostType: "eventbrite_events",
			SiteURL:  "http://localhost:8082",
		},
		Server: Server{
			Addr:     ":8082",
			Database: "events.db",
		},
		Temporal: Temporal{
			Namespace: "default",
		},
		Log: Log{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file at path on top of Default. An empty path skips the
// file so the service can run from defaults plus environment.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("parse yaml: %w", err)
		}
	}
	if token := strings.TrimSpace(os.Getenv(TokenEnv)); token != "" {
		c.Eventbrite.Token = token
	}
	if owner := strings.TrimSpace(os.Getenv(OwnerEmailEnv)); owner != "" {
		c.Sync.OwnerEmail = owner
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every missing or malformed key at once.
func (c Config) Validate() error {
	var errs []error
	if _, err := url.ParseRequestURI(c.Eventbrite.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("eventbrite.endpoint must be a valid URL"))
	} else if !strings.HasSuffix(c.Eventbrite.Endpoint, "/") {
		errs = append(errs, fmt.Errorf("eventbrite.endpoint must end with a slash"))
	}
	if strings.TrimSpace(c.Eventbrite.Token) == "" {
		errs = append(errs, fmt.Errorf("eventbrite.token is required (or set %s)", TokenEnv))
	}
	if c.Eventbrite.Timeout <= 0 {
		errs = append(errs, errors.New("eventbrite.timeout must be positive"))
	}
	if strings.TrimSpace(c.Sync.OwnerEmail) == "" {
		errs = append(errs, fmt.Errorf("sync.owner_email is required (or set %s)", OwnerEmailEnv))
	}
	if strings.TrimSpace(c.Sync.PostType) == "" {
		errs = append(errs, errors.New("sync.post_type is required"))
	}
	if _, err := url.ParseRequestURI(c.Sync.SiteURL); err != nil {
		errs = append(errs, errors.New("sync.site_url must be a valid URL"))
	}
	return errors.Join(errs...)
}
