// Package services defines interfaces for domain service contracts.
package services

import (
	"github.com/ochairo/devbox/internal/domain/entities"
)

// PlanOptions controls how a recipe is resolved into a plan
type PlanOptions struct {
	Variant string
	Vars    map[string]string
}

// PlanService resolves recipes into executable plans
type PlanService interface {
	// Resolve selects the variant, merges vars and validates every step
	Resolve(recipe *entities.Recipe, opts PlanOptions) (*entities.Plan, error)
}
