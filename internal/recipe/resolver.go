// Package recipe expands recipes into the raw-ingredient quantities they
// consume, following sub-recipe ("base") references.
package recipe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"possale/m/domain"
)

// NotFoundError is returned when a recipe id referenced by a cart line or a
// recipe item does not exist.
type NotFoundError struct {
	RecipeID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("recipe %d not found", e.RecipeID)
}

// CycleError is returned when a recipe is reached again while it is still
// being expanded. Path lists the recipe ids from the outermost recipe to
// the repeated one.
type CycleError struct {
	Path []int64
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return "recipe cycle: " + strings.Join(parts, " -> ")
}

// ErrMalformedItem marks a recipe item whose reference does not match its
// item type or whose quantity is not positive.
var ErrMalformedItem = errors.New("malformed recipe item")

// Source reads recipe definitions. Recipe must return a *NotFoundError for
// unknown ids.
type Source interface {
	Recipe(ctx context.Context, id int64) (domain.Recipe, error)
	Items(ctx context.Context, recipeID int64) ([]domain.RecipeItem, error)
}

// Requirements maps ingredient ids to the quantity consumed, in base units.
type Requirements map[int64]decimal.Decimal

// Add accumulates qty for an ingredient.
func (r Requirements) Add(ingredientID int64, qty decimal.Decimal) {
	if cur, ok := r[ingredientID]; ok {
		r[ingredientID] = cur.Add(qty)
		return
	}
	r[ingredientID] = qty
}

// Merge adds every entry of other into r.
func (r Requirements) Merge(other Requirements) {
	for id, qty := range other {
		r.Add(id, qty)
	}
}

// IngredientIDs returns the keys in ascending order.
func (r Requirements) IngredientIDs() []int64 {
	ids := make([]int64, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type entry struct {
	recipe domain.Recipe
	items  []domain.RecipeItem
}

// Resolver expands recipes read from a Source. It caches definitions for
// its lifetime, so one Resolver should serve a single unit of work.
type Resolver struct {
	src   Source
	cache map[int64]entry
}

func NewResolver(src Source) *Resolver {
	return &Resolver{src: src, cache: make(map[int64]entry)}
}

// Resolve returns the ingredients consumed by selling multiplier units of
// the recipe. Ingredient lines contribute quantity x multiplier; base lines
// are expanded with multiplier x quantity / base yield.
func (r *Resolver) Resolve(ctx context.Context, recipeID int64, multiplier decimal.Decimal) (Requirements, error) {
	if !multiplier.IsPositive() {
		return nil, fmt.Errorf("recipe %d: multiplier must be positive, got %s", recipeID, multiplier)
	}
	out := make(Requirements)
	if err := r.expand(ctx, recipeID, multiplier, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// expand walks one recipe. path holds the recipes currently being expanded.
func (r *Resolver) expand(ctx context.Context, recipeID int64, multiplier decimal.Decimal, path []int64, out Requirements) error {
	for _, id := range path {
		if id == recipeID {
			cycle := append(append([]int64(nil), path...), recipeID)
			return &CycleError{Path: cycle}
		}
	}
	e, err := r.load(ctx, recipeID)
	if err != nil {
		return err
	}
	path = append(path, recipeID)

	for _, item := range e.items {
		if !item.Quantity.IsPositive() {
			return fmt.Errorf("recipe %d item %d: %w: quantity %s", recipeID, item.ID, ErrMalformedItem, item.Quantity)
		}
		switch item.ItemType {
		case domain.RecipeItemIngredient:
			if item.IngredientID == nil {
				return fmt.Errorf("recipe %d item %d: %w: missing ingredient", recipeID, item.ID, ErrMalformedItem)
			}
			out.Add(*item.IngredientID, item.Quantity.Mul(multiplier))
		case domain.RecipeItemRecipe:
			if item.SubRecipeID == nil {
				return fmt.Errorf("recipe %d item %d: %w: missing sub-recipe", recipeID, item.ID, ErrMalformedItem)
			}
			sub, err := r.load(ctx, *item.SubRecipeID)
			if err != nil {
				return err
			}
			subMultiplier := multiplier.Mul(item.Quantity).Div(yieldOf(sub.recipe))
			if err := r.expand(ctx, sub.recipe.ID, subMultiplier, path, out); err != nil {
				return err
			}
		default:
			return fmt.Errorf("recipe %d item %d: %w: type %q", recipeID, item.ID, ErrMalformedItem, item.ItemType)
		}
	}
	return nil
}

func (r *Resolver) load(ctx context.Context, id int64) (entry, error) {
	if e, ok := r.cache[id]; ok {
		return e, nil
	}
	rec, err := r.src.Recipe(ctx, id)
	if err != nil {
		return entry{}, err
	}
	items, err := r.src.Items(ctx, id)
	if err != nil {
		return entry{}, err
	}
	e := entry{recipe: rec, items: items}
	r.cache[id] = e
	return e, nil
}

// yieldOf treats a missing or non-positive yield as one unit.
func yieldOf(rec domain.Recipe) decimal.Decimal {
	if rec.YieldQuantity.IsPositive() {
		return rec.YieldQuantity
	}
	return decimal.NewFromInt(1)
}
