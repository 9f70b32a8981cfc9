package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/fusionctl/fusionctl/pkg/requester"
)

// EnvPrefix prefixes every environment variable read by LoadSettings.
const EnvPrefix = "FUSION"

// Settings holds the CLI runtime configuration. Every key can be set through
// an environment variable named FUSION_<KEY> with dots replaced by
// underscores, e.g. FUSION_HTTP_TIMEOUT or FUSION_STORAGE_ENDPOINT.
type Settings struct {
	// APICollectionURL is the connection URL (FUSION_API_COLLECTION_URL).
	APICollectionURL string `mapstructure:"api_collection_url"`

	// AdminPassword overrides the password derived from the connection URL.
	AdminPassword string `mapstructure:"admin_password" default:""`

	// Concurrency bounds how many collections are reconciled at once.
	Concurrency int `mapstructure:"concurrency" default:"1"`

	// HistoryDB is the SQLite run-history path. Empty disables history.
	HistoryDB string `mapstructure:"history_db" default:""`

	// PolicyDir holds extra .rego guardrail policies.
	PolicyDir string `mapstructure:"policy_dir" default:""`

	// DisabledPolicies names policies, built-in or custom, to skip.
	DisabledPolicies []string `mapstructure:"disabled_policies" default:""`

	Log     LogSettings     `mapstructure:"log"`
	HTTP    HTTPSettings    `mapstructure:"http"`
	Metrics MetricsSettings `mapstructure:"metrics"`
	Tracing TracingSettings `mapstructure:"tracing"`
	Storage StorageSettings `mapstructure:"storage"`
}

// LogSettings configures logging.
type LogSettings struct {
	Level  string `mapstructure:"level" default:"info"`
	Format string `mapstructure:"format" default:"console"`
}

// HTTPSettings configures the HTTP requester.
type HTTPSettings struct {
	Timeout      time.Duration `mapstructure:"timeout" default:"60s"`
	Retries      int           `mapstructure:"retries" default:"0"`
	MaxIdleConns int           `mapstructure:"max_idle_conns" default:"10"`
}

// MetricsSettings configures the Prometheus endpoint. Empty Addr disables it.
type MetricsSettings struct {
	Addr string `mapstructure:"addr" default:""`
}

// TracingSettings configures OpenTelemetry export.
type TracingSettings struct {
	Exporter string `mapstructure:"exporter" default:"none"`
	Endpoint string `mapstructure:"endpoint" default:""`
}

// StorageSettings configures the S3-compatible export target.
type StorageSettings struct {
	Endpoint  string `mapstructure:"endpoint" default:"localhost:9000"`
	AccessKey string `mapstructure:"access_key" default:""`
	SecretKey string `mapstructure:"secret_key" default:""`
	Region    string `mapstructure:"region" default:""`
	UseSSL    bool   `mapstructure:"use_ssl" default:"false"`
}

// LoadSettings reads settings from defaults, the optional .env file at
// envPath and FUSION_* environment variables, in increasing precedence: a
// variable already set in the environment is never replaced by the .env
// file. overrides, keyed by dotted setting name, win over everything.
func LoadSettings(envPath string, overrides map[string]interface{}) (*Settings, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", envPath, err)
		}
	}

	v := viper.New()
	bindValues(v, Settings{}, "")
	v.SetDefault("api_collection_url", requester.DefaultURL)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range overrides {
		v.Set(key, value)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if s.Concurrency < 1 {
		s.Concurrency = 1
	}
	return &s, nil
}

// bindValues walks the struct and registers every mapstructure key with its
// "default" tag so AutomaticEnv can find it.
func bindValues(v *viper.Viper, iface any, prefix string) {
	t := reflect.TypeOf(iface)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct {
			bindValues(v, reflect.New(field.Type).Elem().Interface(), key)
			continue
		}

		v.SetDefault(key, field.Tag.Get("default"))
	}
}
