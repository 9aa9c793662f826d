package offline0

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port         int    `yaml:"port"`
		Origin       string `yaml:"origin"`
		FetchTimeout string `yaml:"fetchTimeout"`

		fetchTimeoutDur time.Duration
	} `yaml:"server"`

	Storage struct {
		Path string `yaml:"path"`
		Max  string `yaml:"max"`

		maxBytes int64
	} `yaml:"storage"`

	Cache CacheConfig `yaml:"cache"`

	Notifications NotificationConfig `yaml:"notifications"`

	Sync struct {
		Tag        string `yaml:"tag"`
		DrainURL   string `yaml:"drainURL"`
		MaxElapsed string `yaml:"maxElapsed"`

		maxElapsedDur time.Duration
	} `yaml:"sync"`

	Logging struct {
		Level         string `yaml:"level"`
		LogStatsEvery string `yaml:"logStatsEvery"`

		level            log.Level
		logStatsEveryDur time.Duration
	} `yaml:"logging"`
}

type CacheConfig struct {
	// Generation names the current cache generation. Every other generation
	// found in storage is purged on activation.
	Generation string `yaml:"generation"`

	// APIMarker is a literal substring; request URIs containing it are never
	// intercepted.
	APIMarker string `yaml:"apiMarker"`

	// Manifest lists the static assets precached on install.
	Manifest []string `yaml:"manifest"`

	WriteThroughConcurrency int `yaml:"writeThroughConcurrency"`
}

type NotificationConfig struct {
	Title        string `yaml:"title"`
	Body         string `yaml:"body"`
	URL          string `yaml:"url"`
	Icon         string `yaml:"icon"`
	Badge        string `yaml:"badge"`
	Vibrate      []int  `yaml:"vibrate"`
	OpenTitle    string `yaml:"openTitle"`
	DismissTitle string `yaml:"dismissTitle"`
}

const (
	defaultAPIMarker = "/api/"
	defaultSyncTag   = "sync-requests"
)

var defaultManifest = []string{
	"/",
	"/index.html",
	"/manifest.json",
	"/icons/icon-192x192.png",
	"/icons/icon-512x512.png",
}

func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	return ParseConfig(b)
}

func ParseConfig(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() error {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Origin == "" {
		return errors.New("server.origin is required")
	}
	if _, err := url.Parse(cfg.Server.Origin); err != nil {
		return errors.Wrap(err, "server.origin")
	}
	cfg.Server.Origin = strings.TrimRight(cfg.Server.Origin, "/")
	d, err := parseDurationDefault(cfg.Server.FetchTimeout, 30*time.Second)
	if err != nil {
		return errors.Wrap(err, "server.fetchTimeout")
	}
	cfg.Server.fetchTimeoutDur = d

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "./data/leveldb"
	}
	if cfg.Storage.maxBytes, err = parseBytes(cfg.Storage.Max); err != nil {
		return errors.Wrap(err, "storage.max")
	}

	cfg.Cache.Generation = strings.TrimSpace(cfg.Cache.Generation)
	if cfg.Cache.Generation == "" {
		return errors.New("cache.generation is required")
	}
	if strings.ContainsRune(cfg.Cache.Generation, 0) {
		return errors.New("cache.generation must not contain NUL")
	}
	if cfg.Cache.APIMarker == "" {
		cfg.Cache.APIMarker = defaultAPIMarker
	}
	if len(cfg.Cache.Manifest) == 0 {
		cfg.Cache.Manifest = append([]string(nil), defaultManifest...)
	}
	for i, p := range cfg.Cache.Manifest {
		if !strings.HasPrefix(p, "/") {
			return errors.Errorf("cache.manifest[%d]: path %q must start with /", i, p)
		}
	}
	if cfg.Cache.WriteThroughConcurrency <= 0 {
		cfg.Cache.WriteThroughConcurrency = 32
	}

	cfg.Notifications.applyDefaults()

	if cfg.Sync.Tag == "" {
		cfg.Sync.Tag = defaultSyncTag
	}
	if cfg.Sync.maxElapsedDur, err = parseDurationDefault(cfg.Sync.MaxElapsed, 24*time.Hour); err != nil {
		return errors.Wrap(err, "sync.maxElapsed")
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.level, err = log.ParseLevel(cfg.Logging.Level); err != nil {
		return errors.Wrap(err, "logging.level")
	}
	if cfg.Logging.logStatsEveryDur, err = parseDurationDefault(cfg.Logging.LogStatsEvery, 0); err != nil {
		return errors.Wrap(err, "logging.logStatsEvery")
	}
	return nil
}

func (n *NotificationConfig) applyDefaults() {
	if n.Title == "" {
		n.Title = "New notification"
	}
	if n.Body == "" {
		n.Body = "You have a new update"
	}
	if n.URL == "" {
		n.URL = "/"
	}
	if n.Icon == "" {
		n.Icon = "/icons/icon-192x192.png"
	}
	if n.Badge == "" {
		n.Badge = "/icons/icon-192x192.png"
	}
	if len(n.Vibrate) == 0 {
		n.Vibrate = []int{100, 50, 100}
	}
	if n.OpenTitle == "" {
		n.OpenTitle = "Open"
	}
	if n.DismissTitle == "" {
		n.DismissTitle = "Dismiss"
	}
}

// LogLevel returns the parsed logging.level.
func (cfg Config) LogLevel() log.Level { return cfg.Logging.level }

func parseDurationDefault(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
