// Package config loads devbox settings from an optional YAML file,
// DEVBOX_ environment variables and command-line overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ochairo/devbox/recipes"
)

// EnvPrefix is stripped from environment variables; "__" separates nested keys,
// e.g. DEVBOX_LOG__LEVEL=debug sets log.level
const EnvPrefix = "DEVBOX_"

// DefaultFile is read from the working directory when no path is given
const DefaultFile = "devbox.yml"

// Config holds every setting the CLI understands
type Config struct {
	RecipesDir   string            `koanf:"recipes_dir"` // empty uses the embedded recipes
	Recipe       string            `koanf:"recipe"`
	Variant      string            `koanf:"variant"`
	Root         string            `koanf:"root"`
	ContextDir   string            `koanf:"context_dir"` // empty uses the embedded build context
	MetricsFile  string            `koanf:"metrics_file"`
	AllowHostRun bool              `koanf:"allow_host_run"` // scripts under a Root other than "/" still run on this machine
	Vars         map[string]string `koanf:"vars"`

	HTTP   HTTPConfig   `koanf:"http"`
	Log    LogConfig    `koanf:"log"`
	Docker DockerConfig `koanf:"docker"`
	GitHub GitHubConfig `koanf:"github"`
}

// HTTPConfig configures artifact downloads
type HTTPConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

// DockerConfig selects the Docker daemon; empty uses DOCKER_HOST
type DockerConfig struct {
	Host string `koanf:"host"`
}

// GitHubConfig authenticates version lookups; defaults to $GITHUB_TOKEN
type GitHubConfig struct {
	Token string `koanf:"token"`
}

// LoadOptions selects the config file and flag overrides
type LoadOptions struct {
	// Path of the YAML file. Empty reads DefaultFile if it exists.
	Path string
	// Overrides are applied last, keyed like the file, e.g. "log.level".
	// Zero values are ignored so unset flags don't mask the file.
	Overrides map[string]interface{}
}

// Load merges the file, the environment and the overrides, then applies defaults
func Load(opts LoadOptions) (Config, error) {
	k := koanf.New(".")

	path, required := opts.Path, true
	if path == "" {
		path, required = DefaultFile, false
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if required || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}

	if err := k.Load(envProvider(), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}

	for key, value := range opts.Overrides {
		if isZero(value) {
			continue
		}
		if vars, ok := value.(map[string]string); ok {
			for name, v := range vars {
				if err := k.Set(key+"."+name, v); err != nil {
					return Config{}, fmt.Errorf("failed to set %s.%s: %w", key, name, err)
				}
			}
			continue
		}
		if err := k.Set(key, value); err != nil {
			return Config{}, fmt.Errorf("failed to set %s: %w", key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func envProvider() koanf.Provider {
	return env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	})
}

func isZero(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case bool:
		return !x
	case time.Duration:
		return x == 0
	case map[string]string:
		return len(x) == 0
	default:
		return false
	}
}

func applyDefaults(c *Config) {
	if c.Recipe == "" {
		c.Recipe = recipes.Default
	}
	if c.Root == "" {
		c.Root = "/"
	}
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = 10 * time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.GitHub.Token == "" {
		c.GitHub.Token = os.Getenv("GITHUB_TOKEN")
	}
	if c.Vars == nil {
		c.Vars = map[string]string{}
	}
}
