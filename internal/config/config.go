// Package config provides configuration management for tagcheck.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then TAGCHECK_* environment variables, then command-line flags bound by
// the caller. Registry credentials usually arrive through TAGCHECK_REGISTRIES
// as a JSON or YAML map from endpoint to {username, password}.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jmgilman/tagcheck/internal/finder"
	"github.com/jmgilman/tagcheck/internal/git"
	"github.com/jmgilman/tagcheck/internal/registry"
	"github.com/jmgilman/tagcheck/internal/scan"
)

// Default configuration values.
const (
	DefaultConfigFile = ".tagcheck.yaml"
	DefaultRetries    = 2
	EnvPrefix         = "TAGCHECK"
	EnvRegistries     = EnvPrefix + "_REGISTRIES"
)

// keyDelimiter separates nested viper keys. Registry endpoints contain dots,
// so the default "." delimiter would split them into nested maps.
const keyDelimiter = "::"

const redacted = "********"

// Sentinel errors for configuration operations.
var (
	ErrInvalidKey            = errors.New("invalid configuration key")
	ErrInvalidRegistries     = errors.New("invalid registries")
	ErrOverlappingRegistries = errors.New("overlapping registry endpoints")
)

// validKeys is built once from Config struct reflection.
var validKeys = buildValidKeys()

// validate is the shared validator instance.
var validate = validator.New()

// Config represents the full tagcheck configuration.
type Config struct {
	Registries       map[string]RegistryConfig `mapstructure:"registries" yaml:"registries" validate:"required,min=1,dive,keys,hostname_port|hostname,endkeys"`
	Patterns         []string                  `mapstructure:"patterns" yaml:"patterns" validate:"required,min=1,dive,required"`
	WorkingDirectory string                    `mapstructure:"working_directory" yaml:"working_directory" validate:"required"`
	Scan             ScanConfig                `mapstructure:"scan" yaml:"scan"`
	Registry         ClientConfig              `mapstructure:"registry" yaml:"registry"`
	Diff             DiffConfig                `mapstructure:"diff" yaml:"diff"`
	Report           ReportConfig              `mapstructure:"report" yaml:"report"`
}

// RegistryConfig holds the credentials for one registry endpoint.
type RegistryConfig struct {
	Username string `mapstructure:"username" yaml:"username" json:"username"`
	Password string `mapstructure:"password" yaml:"password" json:"password"`
}

// ScanConfig holds extraction and orchestration limits.
type ScanConfig struct {
	MaxChecks    int   `mapstructure:"max_checks" yaml:"max_checks" validate:"min=1"`
	MaxFileSize  int64 `mapstructure:"max_file_size" yaml:"max_file_size" validate:"min=1"`
	Concurrency  int   `mapstructure:"concurrency" yaml:"concurrency" validate:"min=1,max=64"`
	CacheResults bool  `mapstructure:"cache_results" yaml:"cache_results"`
}

// ClientConfig holds registry client settings shared by every endpoint.
type ClientConfig struct {
	Insecure  bool    `mapstructure:"insecure" yaml:"insecure"`
	Retries   uint64  `mapstructure:"retries" yaml:"retries" validate:"max=10"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit" validate:"min=0"`
}

// DiffConfig bounds the external diff invocation.
type DiffConfig struct {
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	MaxBytes int64         `mapstructure:"max_bytes" yaml:"max_bytes" validate:"min=1"`
}

// ReportConfig selects the output format. Empty means detect from the environment.
type ReportConfig struct {
	Format string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=github text json"`
}

// Validate checks the configuration for errors using struct tags, then
// rejects endpoints that are a prefix of another endpoint. Prefix routing
// would otherwise depend on declaration order.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	endpoints := c.Endpoints()
	for i, a := range endpoints {
		for _, b := range endpoints[i+1:] {
			if strings.HasPrefix(b, a) || strings.HasPrefix(a, b) {
				return fmt.Errorf("%w: %s and %s", ErrOverlappingRegistries, a, b)
			}
		}
	}

	return nil
}

// Endpoints returns the configured registry endpoints, sorted.
func (c *Config) Endpoints() []string {
	endpoints := make([]string, 0, len(c.Registries))
	for endpoint := range c.Registries {
		endpoints = append(endpoints, endpoint)
	}
	slices.Sort(endpoints)
	return endpoints
}

// RegistryList returns the configured registries sorted by endpoint.
func (c *Config) RegistryList() []registry.Registry {
	endpoints := c.Endpoints()
	registries := make([]registry.Registry, 0, len(endpoints))
	for _, endpoint := range endpoints {
		creds := c.Registries[endpoint]
		registries = append(registries, registry.Registry{
			Endpoint: endpoint,
			Username: creds.Username,
			Password: creds.Password,
		})
	}
	return registries
}

// Redacted returns a copy of c with every password masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.Registries = make(map[string]RegistryConfig, len(c.Registries))
	for endpoint, creds := range c.Registries {
		if creds.Password != "" {
			creds.Password = redacted
		}
		out.Registries[endpoint] = creds
	}
	return &out
}

// ParseRegistries decodes a JSON or YAML map from endpoint to credentials.
// Endpoints are lowercased.
func ParseRegistries(raw string) (map[string]RegistryConfig, error) {
	var parsed map[string]RegistryConfig
	if err := yaml.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRegistries, err)
	}

	registries := make(map[string]RegistryConfig, len(parsed))
	for endpoint, creds := range parsed {
		endpoint = strings.ToLower(strings.TrimSpace(endpoint))
		if endpoint == "" {
			return nil, fmt.Errorf("%w: empty endpoint", ErrInvalidRegistries)
		}
		registries[endpoint] = creds
	}
	return registries, nil
}

// Loader provides configuration loading.
type Loader struct {
	v        *viper.Viper
	path     string
	explicit bool
}

// NewLoader creates a configuration loader. An empty path means the optional
// DefaultConfigFile in the current directory; an explicit path must exist.
func NewLoader(path string) *Loader {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}

	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Environment variable binding
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))

	l := &Loader{
		v:        v,
		path:     path,
		explicit: explicit,
	}

	// Set defaults before any config reading
	l.setDefaults()

	return l
}

// setDefaults sets all default configuration values using Viper.
func (l *Loader) setDefaults() {
	l.v.SetDefault("patterns", scan.DefaultPatterns)
	l.v.SetDefault("working_directory", ".")
	l.v.SetDefault(key("scan.max_checks"), scan.DefaultMaxChecks)
	l.v.SetDefault(key("scan.max_file_size"), finder.DefaultMaxFileSize)
	l.v.SetDefault(key("scan.concurrency"), scan.DefaultConcurrency)
	l.v.SetDefault(key("scan.cache_results"), true)
	l.v.SetDefault(key("registry.insecure"), false)
	l.v.SetDefault(key("registry.retries"), DefaultRetries)
	l.v.SetDefault(key("registry.rate_limit"), 0)
	l.v.SetDefault(key("diff.timeout"), git.DefaultDiffTimeout)
	l.v.SetDefault(key("diff.max_bytes"), git.DefaultDiffMaxBytes)
	l.v.SetDefault(key("report.format"), "")
}

// BindFlag makes a command-line flag override the value at key.
func (l *Loader) BindFlag(k string, flag *pflag.Flag) error {
	if err := ValidateKey(k); err != nil {
		return err
	}
	if err := l.v.BindPFlag(key(k), flag); err != nil {
		return fmt.Errorf("bind flag %s: %w", flag.Name, err)
	}
	return nil
}

// Load reads the configuration file if present and applies the environment.
func (l *Loader) Load() (*Config, error) {
	if l.explicit || fileExists(l.path) {
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if raw, ok := os.LookupEnv(EnvRegistries); ok && strings.TrimSpace(raw) != "" {
		registries, err := ParseRegistries(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvRegistries, err)
		}
		cfg.Registries = registries
	}

	return &cfg, nil
}

// Path returns the configuration file path.
func (l *Loader) Path() string {
	return l.path
}

// Get returns a configuration value by dot-notation key.
func (l *Loader) Get(k string) (any, error) {
	if err := ValidateKey(k); err != nil {
		return nil, err
	}
	return l.v.Get(key(k)), nil
}

// key converts a dot-notation key to the loader's delimiter.
func key(k string) string {
	return strings.ReplaceAll(k, ".", keyDelimiter)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ValidateKey checks if a key is a valid configuration key.
func ValidateKey(k string) error {
	if k == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if validKeys[k] {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidKey, k)
}

// buildValidKeys builds the set of valid keys from Config struct using reflection.
func buildValidKeys() map[string]bool {
	keys := make(map[string]bool)
	addKeysFromType(reflect.TypeOf(Config{}), "", keys)
	return keys
}

// addKeysFromType recursively adds keys from a struct type.
func addKeysFromType(t reflect.Type, prefix string, keys map[string]bool) {
	for i := range t.NumField() {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}

		k := tag
		if prefix != "" {
			k = prefix + "." + tag
		}
		keys[k] = true

		// Recurse into nested structs (but not maps or durations)
		if field.Type.Kind() == reflect.Struct {
			addKeysFromType(field.Type, k, keys)
		}
	}
}
