package seed

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"possale/m/domain"
)

// Catalog is the YAML layout accepted by LoadCatalog.
type Catalog struct {
	Ingredients []IngredientDef `yaml:"ingredients"`
	Products    []ProductDef    `yaml:"products"`
	Recipes     []RecipeDef     `yaml:"recipes"`
}

type IngredientDef struct {
	Name     string          `yaml:"name"`
	Category string          `yaml:"category"`
	Unit     string          `yaml:"unit"`
	BaseUnit string          `yaml:"base_unit"`
	Stock    decimal.Decimal `yaml:"stock"`
	MinStock decimal.Decimal `yaml:"min_stock"`
}

type ProductDef struct {
	Name      string          `yaml:"name"`
	Category  string          `yaml:"category"`
	Price     decimal.Decimal `yaml:"price"`
	CostPrice decimal.Decimal `yaml:"cost_price"`
	Stock     decimal.Decimal `yaml:"stock"`
	MinStock  decimal.Decimal `yaml:"min_stock"`
}

type RecipeDef struct {
	Name      string          `yaml:"name"`
	Category  string          `yaml:"category"`
	Price     decimal.Decimal `yaml:"price"`
	UnitCost  decimal.Decimal `yaml:"unit_cost"`
	IsBase    bool            `yaml:"is_base"`
	Yield     decimal.Decimal `yaml:"yield"`
	YieldUnit string          `yaml:"yield_unit"`
	Items     []RecipeItemDef `yaml:"items"`
}

// RecipeItemDef references exactly one of Ingredient or Recipe by name.
type RecipeItemDef struct {
	Ingredient string          `yaml:"ingredient"`
	Recipe     string          `yaml:"recipe"`
	Quantity   decimal.Decimal `yaml:"quantity"`
}

// Stats counts the rows created by a load. Existing names are skipped.
type Stats struct {
	Ingredients int
	Products    int
	Recipes     int
}

// LoadCatalog reads a YAML catalog file and inserts it in one transaction.
func LoadCatalog(ctx context.Context, db *sqlx.DB, path string) (Stats, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Stats{}, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Stats{}, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	return Insert(ctx, db, c)
}

// Insert writes a catalog, skipping entries whose name already exists.
// Recipe items may reference recipes defined later in the same catalog.
func Insert(ctx context.Context, db *sqlx.DB, c Catalog) (Stats, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("unable to start catalog transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var stats Stats
	for _, ing := range c.Ingredients {
		created, err := insertNamed(ctx, tx, `INSERT INTO ingredients (name, category, unit, base_unit, current_stock, min_stock, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (name) DO NOTHING`,
			ing.Name, ing.Category, ing.Unit, ing.BaseUnit, ing.Stock, ing.MinStock, now)
		if err != nil {
			return Stats{}, fmt.Errorf("unable to insert ingredient %s: %w", ing.Name, err)
		}
		if created {
			stats.Ingredients++
		}
	}
	for _, p := range c.Products {
		created, err := insertNamed(ctx, tx, `INSERT INTO products (name, category, price, cost_price, current_stock, min_stock, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (name) DO NOTHING`,
			p.Name, p.Category, p.Price, p.CostPrice, p.Stock, p.MinStock, now)
		if err != nil {
			return Stats{}, fmt.Errorf("unable to insert product %s: %w", p.Name, err)
		}
		if created {
			stats.Products++
		}
	}

	fresh := make(map[string]bool)
	for _, r := range c.Recipes {
		yield := r.Yield
		if !yield.IsPositive() {
			yield = decimal.NewFromInt(1)
		}
		unit := r.YieldUnit
		if unit == "" {
			unit = "unit"
		}
		created, err := insertNamed(ctx, tx, `INSERT INTO recipes (name, category, selling_price, unit_cost, is_base, yield_quantity, yield_unit)
			VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (name) DO NOTHING`,
			r.Name, r.Category, r.Price, r.UnitCost, r.IsBase, yield, unit)
		if err != nil {
			return Stats{}, fmt.Errorf("unable to insert recipe %s: %w", r.Name, err)
		}
		if created {
			fresh[r.Name] = true
			stats.Recipes++
		}
	}
	for _, r := range c.Recipes {
		if !fresh[r.Name] {
			continue
		}
		if err := insertItems(ctx, tx, r); err != nil {
			return Stats{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, fmt.Errorf("unable to commit catalog: %w", err)
	}
	return stats, nil
}

func insertItems(ctx context.Context, tx *sqlx.Tx, r RecipeDef) error {
	recipeID, err := idByName(ctx, tx, "recipes", r.Name)
	if err != nil {
		return err
	}
	for i, item := range r.Items {
		if (item.Ingredient == "") == (item.Recipe == "") {
			return fmt.Errorf("recipe %s item %d: set exactly one of ingredient or recipe", r.Name, i+1)
		}
		if !item.Quantity.IsPositive() {
			return fmt.Errorf("recipe %s item %d: quantity must be positive", r.Name, i+1)
		}
		var (
			itemType     = domain.RecipeItemIngredient
			ingredientID *int64
			subRecipeID  *int64
		)
		if item.Ingredient != "" {
			id, err := idByName(ctx, tx, "ingredients", item.Ingredient)
			if err != nil {
				return fmt.Errorf("recipe %s: %w", r.Name, err)
			}
			ingredientID = &id
		} else {
			itemType = domain.RecipeItemRecipe
			id, err := idByName(ctx, tx, "recipes", item.Recipe)
			if err != nil {
				return fmt.Errorf("recipe %s: %w", r.Name, err)
			}
			subRecipeID = &id
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO recipe_items (recipe_id, item_type, ingredient_id, sub_recipe_id, quantity) VALUES (?, ?, ?, ?, ?)`),
			recipeID, itemType, ingredientID, subRecipeID, item.Quantity)
		if err != nil {
			return fmt.Errorf("unable to insert item %d of recipe %s: %w", i+1, r.Name, err)
		}
	}
	return nil
}

func insertNamed(ctx context.Context, tx *sqlx.Tx, query string, args ...any) (bool, error) {
	res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func idByName(ctx context.Context, tx *sqlx.Tx, table, name string) (int64, error) {
	var id int64
	if err := tx.GetContext(ctx, &id, tx.Rebind(`SELECT id FROM `+table+` WHERE name = ?`), name); err != nil {
		return 0, fmt.Errorf("unknown %s %q: %w", table, name, err)
	}
	return id, nil
}
