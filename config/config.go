// Package config loads the settings of the example binaries. Values come, in
// increasing priority, from defaults, a config file, a .env file, JSONRPC_*
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. JSONRPC_HTTP_PORT.
const EnvPrefix = "JSONRPC"

type Config struct {
	Host       string `mapstructure:"host"`
	HTTPPort   int    `mapstructure:"http_port"`
	RawPort    int    `mapstructure:"raw_port"`
	HybridPort int    `mapstructure:"hybrid_port"` // 0 disables the hybrid listener

	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	AutoReconnect  bool          `mapstructure:"auto_reconnect"`

	LogLevel       string `mapstructure:"log_level"`
	LogDevelopment bool   `mapstructure:"log_development"`

	RateLimit      float64       `mapstructure:"rate_limit"` // Calls per second; 0 is unlimited
	RateBurst      int           `mapstructure:"rate_burst"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"` // 0 disables
}

var defaults = map[string]any{
	"host":            "localhost",
	"http_port":       8088,
	"raw_port":        8089,
	"hybrid_port":     0,
	"username":        "",
	"password":        "",
	"reconnect_delay": 200 * time.Millisecond,
	"auto_reconnect":  true,
	"log_level":       "info",
	"log_development": false,
	"rate_limit":      0.0,
	"rate_burst":      1,
	"handler_timeout": time.Duration(0),
}

// New returns a viper instance with defaults set and environment lookup
// enabled.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds every flag of fs whose name, with dashes turned into
// underscores, is a config key.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if _, ok := defaults[key]; !ok {
			return
		}
		if bindErr := v.BindPFlag(key, f); bindErr != nil {
			err = errors.Join(err, bindErr)
		}
	})
	return err
}

// LoadDotEnv loads .env style files into the process environment. Missing
// files are skipped; variables already set are kept.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads file (if not empty) into v and decodes the result.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	for name, port := range map[string]int{"http_port": c.HTTPPort, "raw_port": c.RawPort, "hybrid_port": c.HybridPort} {
		if port < 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d out of range", name, port))
		}
	}
	if (c.Username == "") != (c.Password == "") {
		errs = append(errs, errors.New("username and password must be set together"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("rate_limit must not be negative"))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		errs = append(errs, errors.New("rate_burst must be at least 1"))
	}
	if c.ReconnectDelay < 0 || c.HandlerTimeout < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Addr joins Host with port.
func (c *Config) Addr(port int) string {
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// HasAuth reports whether credentials are configured.
func (c *Config) HasAuth() bool {
	return c.Username != "" && c.Password != ""
}
