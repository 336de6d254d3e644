package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config is the complete, resolved runtime configuration for cargohold.
type Config struct {
	Registry   Registry   `toml:"registry"`
	Origin     Origin     `toml:"origin"`
	Log        Log        `toml:"log"`
	Postgres   Postgres   `toml:"postgres"`
	S3         S3         `toml:"s3"`
	Proxy      Proxy      `toml:"proxy"`
	TokenCache TokenCache `toml:"token_cache"`
	Webhook    Webhook    `toml:"webhook"`
}

// Registry holds core registry behavior knobs.
type Registry struct {
	DataDir              string   `toml:"data_dir"`
	SessionAgeSeconds    uint64   `toml:"session_age_seconds"`
	CacheSize            uint64   `toml:"cache_size"`
	MaxCrateSizeBytes    uint64   `toml:"max_crate_size_bytes"`
	MaxDBConnections     uint32   `toml:"max_db_connections"`
	AuthRequired         bool     `toml:"auth_required"`
	RequiredCrateFields  []string `toml:"required_crate_fields"`
	NewCratesRestricted  bool     `toml:"new_crates_restricted"`
}

// Origin describes the externally visible address cargohold generates
// download URLs against.
type Origin struct {
	Hostname string `toml:"hostname"`
	Port     uint16 `toml:"port"`
	Protocol string `toml:"protocol"` // "http" or "https"
	Path     string `toml:"path"`
}

// Log configures pkg/log.
type Log struct {
	Format string `toml:"format"` // "compact", "pretty", "json"
	Level  string `toml:"level"`
}

// Postgres configures the relational store when not using the embedded
// SQLite backend.
type Postgres struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    uint16 `toml:"port"`
	DB      string `toml:"db"`
	User    string `toml:"user"`
	Pwd     string `toml:"-"` // never serialized back out
}

// S3 configures the object store's S3-compatible backend. When Enabled
// is false the object store falls back to the filesystem backend rooted
// at Registry.DataDir.
type S3 struct {
	Enabled        bool   `toml:"enabled"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"-"`
	Region         string `toml:"region"`
	Endpoint       string `toml:"endpoint"`
	AllowHTTP      bool   `toml:"allow_http"`
	CratesBucket   string `toml:"crates_bucket"`
	UpstreamBucket string `toml:"upstream_bucket"`
}

// Proxy configures the upstream mirror.
type Proxy struct {
	Enabled          bool   `toml:"enabled"`
	NumThreads       int    `toml:"num_threads"`
	DownloadOnUpdate bool   `toml:"download_on_update"`
	URL              string `toml:"url"`
	Index            string `toml:"index"`
}

// TokenCache configures the in-memory token verification cache.
type TokenCache struct {
	Enabled     bool  `toml:"enabled"`
	TTLSeconds  int64 `toml:"ttl_seconds"`
	MaxCapacity int   `toml:"max_capacity"`
}

// Webhook configures the outbox dispatcher.
type Webhook struct {
	MaxAttempts       int   `toml:"max_attempts"`
	InitialBackoffMs  int   `toml:"initial_backoff_ms"`
	MaxBackoffSeconds int   `toml:"max_backoff_seconds"`
}

// Default returns the compile-time default configuration.
func Default() Config {
	return Config{
		Registry: Registry{
			DataDir:           "/var/lib/cargohold",
			SessionAgeSeconds: 60 * 60 * 8,
			CacheSize:         1000,
			MaxCrateSizeBytes: 10 * 1000 * 1000,
			MaxDBConnections:  0,
			AuthRequired:      false,
		},
		Origin: Origin{
			Hostname: "127.0.0.1",
			Port:     8000,
			Protocol: "http",
		},
		Log: Log{
			Format: "compact",
			Level:  "info",
		},
		Postgres: Postgres{
			Port: 5432,
			DB:   "cargohold",
		},
		S3: S3{
			AccessKey:      "minioadmin",
			Region:         "us-east-1",
			Endpoint:       "http://localhost:9000/",
			AllowHTTP:      true,
			CratesBucket:   "cargohold-crates",
			UpstreamBucket: "cargohold-upstream",
		},
		Proxy: Proxy{
			NumThreads: 10,
			URL:        "https://static.crates.io/crates/",
			Index:      "https://index.crates.io/",
		},
		TokenCache: TokenCache{
			Enabled:     true,
			TTLSeconds:  300,
			MaxCapacity: 10000,
		},
		Webhook: Webhook{
			MaxAttempts:       8,
			InitialBackoffMs:  500,
			MaxBackoffSeconds: 300,
		},
	}
}

func (c Config) BinPath() string        { return filepath.Join(c.Registry.DataDir, "crates") }
func (c Config) SQLitePath() string     { return filepath.Join(c.Registry.DataDir, "db.sqlite") }
func (c Config) UpstreamBinPath() string { return filepath.Join(c.Registry.DataDir, "upstream") }

// Load resolves Config by layering a TOML file (if path is non-empty)
// over Default(), then applying CARGOHOLD_-prefixed environment
// variables over the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, "CARGOHOLD", os.Environ()); err != nil {
		return cfg, fmt.Errorf("applying environment overrides: %w", err)
	}
	return cfg, nil
}

// applyEnv walks cfg's struct tree by reflection and overwrites any field
// whose CARGOHOLD_SECTION__FIELD environment variable is set. This is
// hand-rolled rather than pulled from a config library because it is
// pure reflection over our own struct tags with no external format or
// transport involved — the kind of glue code the standard library
// already expresses cleanly.
func applyEnv(cfg *Config, prefix string, environ []string) error {
	env := map[string]string{}
	for _, kv := range environ {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			env[parts[0]] = parts[1]
		}
	}

	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sectionField := t.Field(i)
		sectionVal := v.Field(i)
		section := strings.ToUpper(tomlName(sectionField))

		for j := 0; j < sectionVal.NumField(); j++ {
			f := sectionVal.Type().Field(j)
			fieldName := strings.ToUpper(tomlName(f))
			key := fmt.Sprintf("%s_%s__%s", prefix, section, fieldName)
			raw, ok := env[key]
			if !ok {
				continue
			}
			if err := setField(sectionVal.Field(j), raw); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	return nil
}

func tomlName(f reflect.StructField) string {
	tag := f.Tag.Get("toml")
	if tag == "" || tag == "-" {
		return f.Name
	}
	return strings.SplitN(tag, ",", 2)[0]
}

func setField(field reflect.Value, raw string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			field.Set(reflect.ValueOf(strings.Split(raw, ",")))
		}
	}
	return nil
}
