package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	envPrefix      = "QUERYCACHE"
	configName     = "querycache"
	defaultDB      = "querycache.db"
	defaultLogLvl  = "warn"
	flagConfigFile = "config"
)

// Settings is the CLI configuration. Values come from flags, QUERYCACHE_* environment
// variables and an optional querycache.yaml, in that order of precedence.
type Settings struct {
	Database  string `mapstructure:"database"`
	KeyPrefix string `mapstructure:"key_prefix"`
	LogLevel  string `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database", defaultDB)
	v.SetDefault("key_prefix", cache.DefaultKeyPrefix)
	v.SetDefault("log_level", defaultLogLvl)
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for key, flag := range map[string]string{
		"database":   "database",
		"key_prefix": "key-prefix",
		"log_level":  "log-level",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// loadSettings reads the config file, if any, and resolves every source into Settings.
func loadSettings(v *viper.Viper, configFile string) (Settings, error) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}
	if s.Database == "" {
		return Settings{}, errors.New("database must not be empty")
	}
	return s, nil
}

// cacheConfig applies the settings on top of the library defaults.
func (s Settings) cacheConfig() cache.Config {
	cfg := cache.DefaultConfig()
	if s.KeyPrefix != "" {
		cfg.KeyPrefix = s.KeyPrefix
	}
	return cfg
}

// newLogger builds a JSON logger writing to sink at the configured level.
func (s Settings) newLogger(sink zapcore.WriteSyncer) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(s.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	return zap.New(zapcore.NewCore(encoder, sink, level)), nil
}
