// Package config loads collector settings from flags, environment, an optional
// YAML/JSON file and a .env file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Adda-Baaj/khobor-collector/internal/store"
	"github.com/Adda-Baaj/khobor-collector/pkg/providers"
)

// EnvPrefix prefixes every environment override, e.g. KHOBOR_STORE_BACKEND.
const EnvPrefix = "KHOBOR"

var (
	ErrMissingAPIKey    = errors.New("api key not set (NEWSAPI_KEY or KHOBOR_API_KEY)")
	ErrInvalidCategory  = errors.New("invalid category")
	ErrUnknownBackend   = store.ErrUnknownBackend
	ErrInvalidPageSize  = errors.New("page_size must be between 1 and 100")
	ErrInvalidMaxPages  = errors.New("max_pages must be at least 1")
	ErrNoLanguages      = errors.New("domain mode requires at least one language")
	ErrMissingMongoURI  = errors.New("store.mongo_uri is required for the mongo backend")
	ErrInvalidBatchSize = errors.New("backfill.batch_size must be between 1 and 450")
)

// Config is the fully resolved run configuration.
type Config struct {
	APIKey     string   `mapstructure:"api_key"`
	BaseURL    string   `mapstructure:"base_url"`
	Categories []string `mapstructure:"categories"`
	Country    string   `mapstructure:"country"`
	PageSize   int      `mapstructure:"page_size"`
	MaxPages   int      `mapstructure:"max_pages"`
	// SinceHours below zero disables the recency filter.
	SinceHours int `mapstructure:"since_hours"`
	// Limit of zero keeps every item.
	Limit     int           `mapstructure:"limit"`
	Out       string        `mapstructure:"out"`
	Debug     bool          `mapstructure:"debug"`
	LogLevel  string        `mapstructure:"log_level"`
	PageDelay time.Duration `mapstructure:"page_delay"`
	Timeout   time.Duration `mapstructure:"timeout"`

	DomainsFile string   `mapstructure:"domains_file"`
	Languages   []string `mapstructure:"languages"`

	DropUndated    bool   `mapstructure:"drop_undated"`
	EnrichImages   bool   `mapstructure:"enrich_images"`
	Every          string `mapstructure:"every"`
	PublishersFile string `mapstructure:"publishers_file"`

	Store    StoreConfig    `mapstructure:"store"`
	Backfill BackfillConfig `mapstructure:"backfill"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend              string `mapstructure:"backend"`
	Path                 string `mapstructure:"path"`
	MongoURI             string `mapstructure:"mongo_uri"`
	MongoDatabase        string `mapstructure:"mongo_database"`
	MongoCollection      string `mapstructure:"mongo_collection"`
	FirestoreProject     string `mapstructure:"firestore_project"`
	FirestoreCollection  string `mapstructure:"firestore_collection"`
	FirestoreCredentials string `mapstructure:"firestore_credentials"`
}

// BackfillConfig tunes the maintenance scan.
type BackfillConfig struct {
	DryRun     bool          `mapstructure:"dry_run"`
	Sleep      time.Duration `mapstructure:"sleep"`
	PageSize   int           `mapstructure:"page_size"`
	BatchSize  int           `mapstructure:"batch_size"`
	StartAfter string        `mapstructure:"start_after"`
}

// SetDefaults registers every key so environment overrides reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api_key", "")
	v.SetDefault("base_url", providers.DefaultBaseURL)
	v.SetDefault("categories", providers.Categories)
	v.SetDefault("country", "us")
	v.SetDefault("page_size", 100)
	v.SetDefault("max_pages", 1)
	v.SetDefault("since_hours", -1)
	v.SetDefault("limit", 0)
	v.SetDefault("out", "")
	v.SetDefault("debug", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("page_delay", providers.DefaultPageDelay)
	v.SetDefault("timeout", providers.DefaultTimeout)
	v.SetDefault("domains_file", "")
	v.SetDefault("languages", []string{"ko", "en"})
	v.SetDefault("drop_undated", false)
	v.SetDefault("enrich_images", false)
	v.SetDefault("every", "")
	v.SetDefault("publishers_file", "")

	v.SetDefault("store.backend", store.BackendSQLite)
	v.SetDefault("store.path", "")
	v.SetDefault("store.mongo_uri", "")
	v.SetDefault("store.mongo_database", store.DefaultMongoDatabase)
	v.SetDefault("store.mongo_collection", store.DefaultCollection)
	v.SetDefault("store.firestore_project", "")
	v.SetDefault("store.firestore_collection", store.DefaultCollection)
	v.SetDefault("store.firestore_credentials", "")

	v.SetDefault("backfill.dry_run", false)
	v.SetDefault("backfill.sleep", time.Duration(0))
	v.SetDefault("backfill.page_size", 200)
	v.SetDefault("backfill.batch_size", 450)
	v.SetDefault("backfill.start_after", "")
}

// Load resolves the configuration held by v. configFile may be empty. A .env
// file in the working directory is loaded first without overriding variables
// already set in the process environment.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("api_key", EnvPrefix+"_API_KEY", "NEWSAPI_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind api key env: %w", err)
	}
	if err := v.BindEnv("store.firestore_credentials", EnvPrefix+"_STORE_FIRESTORE_CREDENTIALS", "GOOGLE_APPLICATION_CREDENTIALS"); err != nil {
		return Config{}, fmt.Errorf("bind credentials env: %w", err)
	}

	if configFile = strings.TrimSpace(configFile); configFile != "" {
		raw, err := os.ReadFile(configFile)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		v.SetConfigType(strings.TrimPrefix(strings.ToLower(filepath.Ext(configFile)), "."))
		if err := v.MergeConfig(strings.NewReader(os.ExpandEnv(string(raw)))); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.Categories = splitList(c.Categories, true)
	c.Languages = splitList(c.Languages, false)
	c.Country = strings.ToLower(strings.TrimSpace(c.Country))
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = store.BackendSQLite
	}
	if c.Debug {
		c.LogLevel = "debug"
	}
	if c.Store.Path == "" {
		switch c.Store.Backend {
		case store.BackendBolt:
			c.Store.Path = store.DefaultBoltPath
		case store.BackendSQLite:
			c.Store.Path = store.DefaultSQLitePath
		}
	}
}

// splitList flattens comma-separated members, trims blanks and drops
// duplicates while keeping first-seen order.
func splitList(items []string, lower bool) []string {
	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			part = strings.TrimSpace(part)
			if lower {
				part = strings.ToLower(part)
			}
			if part == "" {
				continue
			}
			if _, dup := seen[part]; dup {
				continue
			}
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}
	return out
}

// DomainMode reports whether a category→domains mapping drives the run.
func (c Config) DomainMode() bool { return c.DomainsFile != "" }

// Cutoff returns now minus SinceHours, or nil when the filter is disabled.
func (c Config) Cutoff(now time.Time) *time.Time {
	if c.SinceHours < 0 {
		return nil
	}
	t := now.UTC().Add(-time.Duration(c.SinceHours) * time.Hour)
	return &t
}

// StoreOptions converts the store section for store.Open.
func (c Config) StoreOptions() store.Config {
	return store.Config{
		Backend:                  c.Store.Backend,
		Path:                     c.Store.Path,
		MongoURI:                 c.Store.MongoURI,
		MongoDatabase:            c.Store.MongoDatabase,
		MongoCollection:          c.Store.MongoCollection,
		FirestoreProject:         c.Store.FirestoreProject,
		FirestoreCollection:      c.Store.FirestoreCollection,
		FirestoreCredentialsFile: c.Store.FirestoreCredentials,
	}
}

// ValidateStore checks the backend selection.
func (c Config) ValidateStore() error {
	switch c.Store.Backend {
	case store.BackendSQLite, store.BackendBolt, store.BackendFirestore:
		return nil
	case store.BackendMongo:
		if strings.TrimSpace(c.Store.MongoURI) == "" {
			return ErrMissingMongoURI
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Store.Backend)
	}
}

// ValidateCollect checks everything a collect run needs before any network call.
func (c Config) ValidateCollect() error {
	var invalid []string
	for _, cat := range c.Categories {
		if !providers.IsCategory(cat) {
			invalid = append(invalid, cat)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidCategory, strings.Join(invalid, ", "))
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("%w: no categories requested", ErrInvalidCategory)
	}
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.PageSize < 1 || c.PageSize > 100 {
		return ErrInvalidPageSize
	}
	if c.MaxPages < 1 {
		return ErrInvalidMaxPages
	}
	if c.DomainMode() && len(c.Languages) == 0 {
		return ErrNoLanguages
	}
	return c.ValidateStore()
}

// ValidateBackfill checks the backfill section and the store selection.
func (c Config) ValidateBackfill() error {
	if c.Backfill.BatchSize < 1 || c.Backfill.BatchSize > 450 {
		return ErrInvalidBatchSize
	}
	return c.ValidateStore()
}
