package yaml

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/ochairo/devbox/internal/domain/entities"
	"github.com/ochairo/devbox/internal/domain/interfaces"
)

var recipeExts = []string{".yml", ".yaml"}

// RecipeRepository implements repositories.RecipeRepository over a directory of YAML files
type RecipeRepository struct {
	fsys   fs.FS
	parser *RecipeParser
	logger interfaces.Logger
}

// NewRecipeRepository creates a repository reading recipes from recipesDir
func NewRecipeRepository(recipesDir string) *RecipeRepository {
	return NewRecipeRepositoryFS(os.DirFS(recipesDir), nil)
}

// NewRecipeRepositoryFS creates a repository over any fs.FS, such as the embedded recipes
func NewRecipeRepositoryFS(fsys fs.FS, logger interfaces.Logger) *RecipeRepository {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &RecipeRepository{
		fsys:   fsys,
		parser: NewRecipeParser(),
		logger: logger,
	}
}

// GetRecipe retrieves a box recipe by name
func (r *RecipeRepository) GetRecipe(_ context.Context, name string) (*entities.Recipe, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid recipe name %q", name)
	}

	for _, ext := range recipeExts {
		data, err := fs.ReadFile(r.fsys, name+ext)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read recipe %s: %w", name, err)
		}

		recipe, err := r.parser.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("recipe %s: %w", name+ext, err)
		}
		return recipe, nil
	}

	return nil, fmt.Errorf("recipe not found: %s", name)
}

// ListRecipes returns all parseable recipes in name order. Broken files are logged and skipped.
func (r *RecipeRepository) ListRecipes(_ context.Context) ([]*entities.Recipe, error) {
	entries, err := fs.ReadDir(r.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read recipes directory: %w", err)
	}

	recipes := make([]*entities.Recipe, 0)
	for _, entry := range entries {
		if entry.IsDir() || !isRecipeFile(entry.Name()) {
			continue
		}

		data, err := fs.ReadFile(r.fsys, entry.Name())
		if err != nil {
			r.logger.Warn("failed to read recipe", interfaces.F("file", entry.Name()), interfaces.F("error", err))
			continue
		}
		recipe, err := r.parser.Parse(data)
		if err != nil {
			r.logger.Warn("failed to parse recipe", interfaces.F("file", entry.Name()), interfaces.F("error", err))
			continue
		}

		recipes = append(recipes, recipe)
	}

	return recipes, nil
}

func isRecipeFile(name string) bool {
	ext := path.Ext(name)
	for _, e := range recipeExts {
		if ext == e {
			return true
		}
	}
	return false
}
