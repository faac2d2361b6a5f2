// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
//
// Configuration for the relay client: file, environment and flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/girino/relay-client/relaychannel"
	validator "github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment variables: RELAY_CLIENT_RELAYS,
// RELAY_CLIENT_LOGGING_LEVEL and so on.
const EnvPrefix = "RELAY_CLIENT"

var validate = validator.New()

func init() {
	registerCustomValidators()
}

// Config holds every setting the client reads.
type Config struct {
	Relays         []string      `mapstructure:"relays"          validate:"required,min=1,dive,relayurl"`
	SecretKey      string        `mapstructure:"secret_key"      validate:"omitempty,seckey"`
	PublicKey      string        `mapstructure:"public_key"      validate:"omitempty,pubkey"`
	Verbose        string        `mapstructure:"verbose"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"   validate:"min=100ms,max=10m"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout" validate:"min=100ms,max=10m"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"min=100ms,max=10m"`
	MetricsAddr    string        `mapstructure:"metrics_addr"    validate:"omitempty,listenaddr"`
	Logging        LoggingConfig `mapstructure:"logging"`
}

// LoggingConfig mirrors the logging package options.
type LoggingConfig struct {
	Level      string `mapstructure:"level"       validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format"      validate:"oneof=console json"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"    validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAge     int    `mapstructure:"max_age"     validate:"gte=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("relays", []string{})
	v.SetDefault("secret_key", "")
	v.SetDefault("public_key", "")
	v.SetDefault("verbose", "")
	v.SetDefault("fetch_timeout", "10s")
	v.SetDefault("publish_timeout", "7s")
	v.SetDefault("connect_timeout", "7s")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"relays":          "relays",
	"secret-key":      "secret_key",
	"public-key":      "public_key",
	"verbose":         "verbose",
	"fetch-timeout":   "fetch_timeout",
	"publish-timeout": "publish_timeout",
	"connect-timeout": "connect_timeout",
	"metrics-addr":    "metrics_addr",
	"log-level":       "logging.level",
	"log-format":      "logging.format",
	"log-file":        "logging.file",
}

// Load merges defaults, the optional file at path, the environment and any
// flags in fs that were set, in increasing order of precedence, then
// validates the result.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	// plain VERBOSE is honoured as well
	if err := v.BindEnv("verbose", EnvPrefix+"_VERBOSE", "VERBOSE"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Relays = splitList(cfg.Relays)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// splitList flattens comma separated entries, as the environment delivers
// lists that way.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks the configuration and reports every failing field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	if c.SecretKey != "" && c.PublicKey != "" {
		pub, _ := PublicKeyOf(c.SecretKey)
		want, _ := ParsePublicKey(c.PublicKey)
		if pub != want {
			return errors.New("config: public_key does not match secret_key")
		}
	}
	return nil
}

// Endpoints parses the relay list.
func (c *Config) Endpoints() ([]relaychannel.Endpoint, error) {
	return relaychannel.ParseEndpoints(c.Relays)
}

// Identity returns the hex key the client should use and whether it is
// private. The secret key wins when both are set.
func (c *Config) Identity() (key string, private bool, err error) {
	if c.SecretKey != "" {
		key, err = ParseSecretKey(c.SecretKey)
		return key, true, err
	}
	if c.PublicKey != "" {
		key, err = ParsePublicKey(c.PublicKey)
		return key, false, err
	}
	return "", false, nil
}

func registerCustomValidators() {
	must := func(tag string, fn validator.Func) {
		if err := validate.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("register %s validator: %v", tag, err))
		}
	}
	must("relayurl", func(fl validator.FieldLevel) bool {
		_, err := relaychannel.ParseEndpoint(fl.Field().String())
		return err == nil
	})
	must("seckey", func(fl validator.FieldLevel) bool {
		_, err := ParseSecretKey(fl.Field().String())
		return err == nil
	})
	must("pubkey", func(fl validator.FieldLevel) bool {
		_, err := ParsePublicKey(fl.Field().String())
		return err == nil
	})
	must("listenaddr", func(fl validator.FieldLevel) bool {
		_, port, err := net.SplitHostPort(fl.Field().String())
		if err != nil || port == "" {
			return false
		}
		_, err = net.LookupPort("tcp", port)
		return err == nil
	})
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config validation: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("config validation: %s", strings.Join(msgs, "; "))
}
