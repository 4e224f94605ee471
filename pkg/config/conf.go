package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mchmarny/microscore/pkg/rate"
	"gopkg.in/yaml.v3"
)

const (
	AppName = "microscore"

	configFileName = "config.yaml"
	dirMode        = 0700
	fileMode       = 0600

	defaultPort = 8080
)

// Config represents app config object.
type Config struct {
	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	Model    Model    `yaml:"model"`
	Scoring  Scoring  `yaml:"scoring"`
	Cache    Cache    `yaml:"cache"`
	Events   Events   `yaml:"events"`
	Feast    Feast    `yaml:"feast"`
	Rates    Rates    `yaml:"rates"`
}

type Server struct {
	Address         string        `yaml:"address"`
	Port            int           `yaml:"port"`
	CORSOrigin      string        `yaml:"corsOrigin"`
	RateLimit       float64       `yaml:"rateLimit"`
	RateBurst       int           `yaml:"rateBurst"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type Database struct {
	DSN string `yaml:"dsn,omitempty"`
}

// Model selects the predictor. URL, when set, switches to a remote model server.
type Model struct {
	Paths   []string      `yaml:"paths,omitempty"`
	URL     string        `yaml:"url,omitempty"`
	Token   string        `yaml:"-"`
	Timeout time.Duration `yaml:"timeout"`
}

type Scoring struct {
	Clamp bool `yaml:"clamp"`
}

type Cache struct {
	Addr     string        `yaml:"addr,omitempty"`
	Memory   bool          `yaml:"memory,omitempty"`
	Password string        `yaml:"-"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type Events struct {
	URL     string `yaml:"url,omitempty"`
	Subject string `yaml:"subject"`
}

type Feast struct {
	Host      string `yaml:"host,omitempty"`
	Port      int    `yaml:"port"`
	Project   string `yaml:"project,omitempty"`
	View      string `yaml:"view"`
	EntityKey string `yaml:"entityKey"`
	Token     string `yaml:"-"`
}

type Rates struct {
	Floor float64     `yaml:"floor"`
	Tiers []rate.Tier `yaml:"tiers"`
}

// Default returns the config written on first run.
func Default() *Config {
	return &Config{
		Server: Server{
			Port:            defaultPort,
			CORSOrigin:      "*",
			RateLimit:       50,
			RateBurst:       100,
			ShutdownTimeout: 10 * time.Second,
		},
		Model: Model{
			Timeout: 5 * time.Second,
		},
		Cache: Cache{
			TTL: 5 * time.Minute,
		},
		Events: Events{
			Subject: "microscore.score.computed",
		},
		Feast: Feast{
			Port:      6565,
			View:      "operator_features",
			EntityKey: "numero_telephone",
		},
		Rates: Rates{
			Floor: rate.FloorRate,
			Tiers: append([]rate.Tier(nil), rate.DefaultTiers...),
		},
	}
}

// Save writes c to the config file in dirPath.
func Save(dirPath string, c *Config) error {
	if dirPath == "" {
		return errors.New("config directory required")
	}
	return SaveFile(filepath.Join(dirPath, configFileName), c)
}

// SaveFile writes c to path.
func SaveFile(path string, c *Config) error {
	if path == "" {
		return errors.New("config path required")
	}
	if c == nil {
		return errors.New("config required")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, b, fileMode); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// ReadOrCreate reads app config from directory or creates a new one.
func ReadOrCreate(dirPath string) (*Config, error) {
	if dirPath == "" {
		return nil, errors.New("config directory required")
	}
	return ReadOrCreateFile(filepath.Join(dirPath, configFileName))
}

// ReadOrCreateFile reads the config at path, writing the defaults first when
// the file does not exist. Values missing from the file keep their defaults.
func ReadOrCreateFile(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path required")
	}

	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return nil, fmt.Errorf("failed to create dir %s: %w", dir, err)
		}
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Debug("creating default config", "path", path)
		if err := SaveFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("error unmarshalling config file %s: %w", path, err)
	}
	return c, nil
}

// GetOrCreateHomeDir returns the home directory for the current user.
// The create flag is set to true if the directory was created.
func GetOrCreateHomeDir(name string) (path string, created bool, err error) {
	if name == "" {
		return "", false, errors.New("name cannot be empty")
	}

	if !strings.HasPrefix(name, ".") {
		name = "." + name
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("failed to get user home dir: %w", err)
	}
	slog.Debug("home dir", "path", home)

	dir := filepath.Join(home, name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		slog.Debug("creating dir", "path", dir)
		if err := os.Mkdir(dir, dirMode); err != nil {
			return "", false, fmt.Errorf("failed to create dir %s: %w", dir, err)
		}
		created = true
	}
	return dir, created, nil
}

// ApplyEnv overrides config values with the MICROSCORE_* environment
// variables and PORT. getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	envOr := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}

	c.Database.DSN = envOr("MICROSCORE_DB", c.Database.DSN)
	if p := getenv("MICROSCORE_MODEL_PATH"); p != "" {
		c.Model.Paths = []string{p}
	}
	c.Model.URL = envOr("MICROSCORE_MODEL_URL", c.Model.URL)
	c.Model.Token = envOr("MICROSCORE_MODEL_TOKEN", c.Model.Token)
	c.Cache.Addr = envOr("MICROSCORE_REDIS_ADDR", c.Cache.Addr)
	c.Cache.Password = envOr("MICROSCORE_REDIS_PASSWORD", c.Cache.Password)
	c.Events.URL = envOr("MICROSCORE_NATS_URL", c.Events.URL)
	c.Feast.Host = envOr("MICROSCORE_FEAST_HOST", c.Feast.Host)
	c.Feast.Token = envOr("MICROSCORE_FEAST_TOKEN", c.Feast.Token)
	c.Server.CORSOrigin = envOr("MICROSCORE_CORS_ORIGIN", c.Server.CORSOrigin)

	if v := getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Server.Port = p
		} else {
			slog.Warn("ignoring invalid PORT", "value", v)
		}
	}
}
