// Package repositories defines interfaces for data access layers.
package repositories

import (
	"context"

	"github.com/ochairo/devbox/internal/domain/entities"
)

// RecipeRepository defines the interface for accessing box recipes
type RecipeRepository interface {
	// GetRecipe retrieves a box recipe by name
	GetRecipe(ctx context.Context, name string) (*entities.Recipe, error)

	// ListRecipes returns all available box recipes
	ListRecipes(ctx context.Context) ([]*entities.Recipe, error)
}
