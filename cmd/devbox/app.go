package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/ochairo/devbox/internal/config"
	"github.com/ochairo/devbox/internal/domain/interfaces"
	"github.com/ochairo/devbox/internal/domain/interfaces/repositories"
	"github.com/ochairo/devbox/internal/external-adapters/yaml"
	"github.com/ochairo/devbox/internal/external-adapters/zaplog"
	"github.com/ochairo/devbox/recipes"
)

// commonFlags are shared by every command that loads a recipe
type commonFlags struct {
	config     *string
	recipesDir *string
	recipe     *string
	variant    *string
	logLevel   *string
	logJSON    *bool
	vars       varsFlag
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	c := addConfigFlags(fs)
	c.recipesDir = fs.String("recipes-dir", "", "Directory of recipe files (default: bundled recipes)")
	c.recipe = fs.String("recipe", "", "Recipe name (default: "+recipes.Default+")")
	c.variant = fs.String("variant", "", "Recipe variant (default: the recipe's default_variant)")
	fs.Var(c.vars, "set", "Override a recipe var, key=value (repeatable)")
	return c
}

// addConfigFlags registers only the config and logging flags, for commands that take no recipe
func addConfigFlags(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		config:     fs.String("config", "", "Config file (default: ./devbox.yml if present)"),
		recipesDir: new(string),
		recipe:     new(string),
		variant:    new(string),
		logLevel:   fs.String("log-level", "", "Log level: debug, info, warn, error"),
		logJSON:    fs.Bool("log-json", false, "Log JSON lines instead of console output"),
		vars:       varsFlag{},
	}
}

// load merges the config file, the environment and the flags set on the command line
func (c *commonFlags) load(extra map[string]interface{}) (config.Config, error) {
	overrides := map[string]interface{}{
		"recipes_dir": *c.recipesDir,
		"recipe":      *c.recipe,
		"variant":     *c.variant,
		"log.level":   *c.logLevel,
		"log.json":    *c.logJSON,
		"vars":        map[string]string(c.vars),
	}
	for k, v := range extra {
		overrides[k] = v
	}
	return config.Load(config.LoadOptions{Path: *c.config, Overrides: overrides})
}

// varsFlag collects repeated --set key=value flags
type varsFlag map[string]string

func (v varsFlag) String() string {
	pairs := make([]string, 0, len(v))
	for k, val := range v {
		pairs = append(pairs, k+"="+val)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func (v varsFlag) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	v[key] = value
	return nil
}

// tagsFlag collects repeated --tag flags
type tagsFlag []string

func (t *tagsFlag) String() string { return strings.Join(*t, ",") }

func (t *tagsFlag) Set(s string) error {
	*t = append(*t, s)
	return nil
}

func newLogger(cfg config.Config) (*zaplog.Logger, error) {
	return zaplog.New(zaplog.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
}

func newRecipeRepository(cfg config.Config, logger interfaces.Logger) repositories.RecipeRepository {
	if cfg.RecipesDir == "" {
		return yaml.NewRecipeRepositoryFS(recipes.FS, logger)
	}
	return yaml.NewRecipeRepositoryFS(os.DirFS(cfg.RecipesDir), logger)
}

// buildContext is where copy steps read from: the configured directory or the bundled files
func buildContext(cfg config.Config) fs.FS {
	if cfg.ContextDir == "" {
		return recipes.FS
	}
	return os.DirFS(cfg.ContextDir)
}

// parseInterspersed parses flags that may appear before, between or after positional args
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}
