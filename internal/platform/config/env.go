package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func newLoaderOptions(opts ...Option) loaderOptions {
	options := loaderOptions{envFile: ".env", useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// WithEnvFile reads local overrides from path. An empty path skips the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that win over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver resolves secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets names secret fields that must resolve to a value,
// e.g. "PSP.RazorpayKeySecret".
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// WithPanicOnMissingSecrets makes Load panic instead of returning MissingSecretsError.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissingSecrets = true }
}

// EnvironmentValues merges the same sources Load reads into one map. main uses it
// to configure the secret fetcher before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts...)
	values, err := readDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(key) != "" {
				values[strings.TrimSpace(key)] = value
			}
		}
	}
	maps.Copy(values, options.envMap)
	return values, nil
}

func (o loaderOptions) lookup() (envLookup, error) {
	dotEnv, err := readDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if value, ok := o.envMap[key]; ok {
			return value, true
		}
		if o.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}, nil
}

// readDotEnv returns an empty map when path is empty or the file does not exist.
func readDotEnv(path string) (map[string]string, error) {
	values := map[string]string{}
	if path == "" {
		return values, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	parsed, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	maps.Copy(values, parsed)
	return values, nil
}

// envLookup overwrites a field only when the key holds a non-blank, parseable value.
type envLookup func(string) (string, bool)

func (l envLookup) raw(key string) (string, bool) {
	value, ok := l(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (l envLookup) str(dst *string, key string) {
	if value, ok := l.raw(key); ok {
		*dst = value
	}
}

func (l envLookup) duration(dst *time.Duration, key string) {
	if value, ok := l.raw(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			*dst = d
		}
	}
}

func (l envLookup) integer(dst *int, key string) {
	if value, ok := l.raw(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			*dst = n
		}
	}
}

func (l envLookup) float(dst *float64, key string) {
	if value, ok := l.raw(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			*dst = f
		}
	}
}

func (l envLookup) boolean(dst *bool, key string) {
	value, ok := l.raw(key)
	if !ok {
		return
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		*dst = true
	case "false", "0", "no", "off":
		*dst = false
	}
}

func (l envLookup) list(dst *[]string, key string) {
	value, ok := l.raw(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}

// keyValues parses "prod=a,stg=b" into a map with lower-cased keys.
func (l envLookup) keyValues(dst *map[string]string, key string) {
	var entries []string
	l.list(&entries, key)
	for _, entry := range entries {
		name, value, ok := strings.Cut(entry, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			continue
		}
		if *dst == nil {
			*dst = make(map[string]string)
		}
		(*dst)[name] = value
	}
}
