package domain

import "github.com/shopspring/decimal"

type Recipe struct {
	ID            int64           `db:"id" json:"id"`
	Name          string          `db:"name" json:"name"`
	Category      string          `db:"category" json:"category"`
	SellingPrice  decimal.Decimal `db:"selling_price" json:"selling_price"`
	UnitCost      decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	IsBase        bool            `db:"is_base" json:"is_base"`
	YieldQuantity decimal.Decimal `db:"yield_quantity" json:"yield_quantity"`
	YieldUnit     string          `db:"yield_unit" json:"yield_unit"`
}

const (
	RecipeItemIngredient = "ingredient"
	RecipeItemRecipe     = "recipe"
)

// RecipeItem is one line of a recipe's bill of materials. Exactly one of
// IngredientID and SubRecipeID is set, matching ItemType.
type RecipeItem struct {
	ID           int64           `db:"id" json:"id"`
	RecipeID     int64           `db:"recipe_id" json:"recipe_id"`
	ItemType     string          `db:"item_type" json:"item_type"`
	IngredientID *int64          `db:"ingredient_id" json:"ingredient_id,omitempty"`
	SubRecipeID  *int64          `db:"sub_recipe_id" json:"sub_recipe_id,omitempty"`
	Quantity     decimal.Decimal `db:"quantity" json:"quantity"`
}
