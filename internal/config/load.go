// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package config

import (
	"errors"
	"io/fs"
	"os"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable Load reads.
const EnvPrefix = "COURTCHECK_"

// envSecrets maps environment variables to config keys. Only secrets are read
// from the environment; everything else belongs in the file or on flags.
var envSecrets = map[string]string{
	EnvPrefix + "DATABASE_URL":     "database.url",
	EnvPrefix + "REDIS_URL":        "redis.url",
	EnvPrefix + "NATS_URL":         "nats.url",
	EnvPrefix + "AUTH_SIGNING_KEY": "auth.signing_key",
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"http-addr":    "http.addr",
	"metrics-addr": "metrics.addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"auto-migrate": "database.auto_migrate",
}

// RegisterFlags adds the overridable settings to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	def := Default()
	fs.String("http-addr", def.HTTP.Addr, "public API listen address")
	fs.String("metrics-addr", def.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", def.Log.Format, "log format (json or text)")
	fs.String("log-level", def.Log.Level, "log level (debug, info, warn, error)")
	fs.Bool("auto-migrate", def.Database.AutoMigrate, "apply pending migrations on startup")
}

// Options selects the sources Load reads.
type Options struct {
	// File is the YAML config path. Empty skips the file unless
	// DefaultFile exists.
	File string
	// DefaultFile is tried when File is empty. A missing default is not an error.
	DefaultFile string
	// Flags holds flags registered with RegisterFlags. Nil skips flags.
	Flags *pflag.FlagSet
	// LookupEnv reads the environment. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load merges defaults, the YAML file, changed flags and environment secrets.
// The file is checked against the config schema before it is merged.
// Load does not call Validate.
func Load(opts Options) (Config, error) {
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	k := koanf.New(".")

	if err := k.Load(defaultsProvider{}, kyaml.Parser()); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "defaults").Wrap(err)
	}

	path, err := resolveFile(opts)
	if err != nil {
		return Config{}, err
	}
	if path != "" {
		fp := file.Provider(path)
		data, err := fp.ReadBytes()
		if err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
		if err := ValidateYAML(data); err != nil {
			return Config{}, oops.With("path", path).Wrap(err)
		}
		if err := k.Load(fp, kyaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	for env, key := range envSecrets {
		if v, ok := opts.LookupEnv(env); ok && v != "" {
			if err := k.Set(key, v); err != nil {
				return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("env", env).Wrap(err)
			}
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("source", "unmarshal").Wrap(err)
	}
	return cfg, nil
}

func resolveFile(opts Options) (string, error) {
	if opts.File != "" {
		return opts.File, nil
	}
	if opts.DefaultFile == "" {
		return "", nil
	}
	_, err := os.Stat(opts.DefaultFile)
	switch {
	case err == nil:
		return opts.DefaultFile, nil
	case errors.Is(err, fs.ErrNotExist):
		return "", nil
	default:
		return "", oops.Code("CONFIG_LOAD_FAILED").With("path", opts.DefaultFile).Wrap(err)
	}
}

// defaultsProvider feeds Default() to koanf as YAML so durations go through
// the same decoding as the file.
type defaultsProvider struct{}

func (defaultsProvider) ReadBytes() ([]byte, error) {
	return yaml.Marshal(Default())
}

func (defaultsProvider) Read() (map[string]any, error) {
	return nil, errors.New("defaults provider does not support Read")
}

// YAML renders cfg with secrets redacted.
func YAML(cfg Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return nil, oops.Code("CONFIG_ENCODE_FAILED").Wrap(err)
	}
	return out, nil
}
