package recipe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"possale/m/domain"
)

// SQLSource reads recipes through a database handle or transaction.
type SQLSource struct {
	q sqlx.ExtContext
}

func NewSQLSource(q sqlx.ExtContext) *SQLSource {
	return &SQLSource{q: q}
}

func (s *SQLSource) Recipe(ctx context.Context, id int64) (domain.Recipe, error) {
	var rec domain.Recipe
	err := sqlx.GetContext(ctx, s.q, &rec, s.q.Rebind(`
		SELECT id, name, category, selling_price, unit_cost, is_base, yield_quantity, yield_unit
		FROM recipes WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Recipe{}, &NotFoundError{RecipeID: id}
	}
	if err != nil {
		return domain.Recipe{}, fmt.Errorf("load recipe %d: %w", id, err)
	}
	return rec, nil
}

func (s *SQLSource) Items(ctx context.Context, recipeID int64) ([]domain.RecipeItem, error) {
	var items []domain.RecipeItem
	err := sqlx.SelectContext(ctx, s.q, &items, s.q.Rebind(`
		SELECT id, recipe_id, item_type, ingredient_id, sub_recipe_id, quantity
		FROM recipe_items WHERE recipe_id = ? ORDER BY id`), recipeID)
	if err != nil {
		return nil, fmt.Errorf("load items of recipe %d: %w", recipeID, err)
	}
	return items, nil
}
