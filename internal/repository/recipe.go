package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/meal-planner/backend/internal/mealplan"
	"example.com/meal-planner/backend/internal/models"
)

type RecipeRepository struct {
	db *pgxpool.Pool
}

// NewRecipeRepository создает репозиторий каталога рецептов.
func NewRecipeRepository(db *pgxpool.Pool) *RecipeRepository {
	return &RecipeRepository{db: db}
}

// FindRecipes возвращает рецепты пользователя и/или публичные рецепты
// вместе с наборами ингредиентов и типов блюд.
func (r *RecipeRepository) FindRecipes(ctx context.Context, filter mealplan.RecipeFilter) ([]models.Recipe, error) {
	if filter.OwnerID == nil && !filter.IncludePublic {
		return []models.Recipe{}, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT r.id, r.user_id, r.title, r.is_public,
		        COALESCE(array_agg(DISTINCT ri.ingredient_id) FILTER (WHERE ri.ingredient_id IS NOT NULL), '{}') AS ingredient_ids,
		        COALESCE(array_agg(DISTINCT rmt.meal_type_id) FILTER (WHERE rmt.meal_type_id IS NOT NULL), '{}') AS meal_type_ids
		 FROM recipes r
		 LEFT JOIN recipe_ingredients ri ON ri.recipe_id = r.id
		 LEFT JOIN recipe_meal_types rmt ON rmt.recipe_id = r.id
		 WHERE ($1::uuid IS NOT NULL AND r.user_id = $1::uuid) OR ($2 AND r.is_public)
		 GROUP BY r.id
		 ORDER BY r.id`,
		filter.OwnerID, filter.IncludePublic,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipes := make([]models.Recipe, 0)
	for rows.Next() {
		var recipe models.Recipe

		err := rows.Scan(&recipe.ID, &recipe.UserID, &recipe.Title, &recipe.IsPublic, &recipe.IngredientIDs, &recipe.MealTypeIDs)
		if err != nil {
			return nil, err
		}

		recipes = append(recipes, recipe)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return recipes, nil
}
