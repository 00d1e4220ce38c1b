package models

import (
	"time"

	"github.com/google/uuid"
)

type RecipeSource string

const (
	RecipeSourceMine     RecipeSource = "mine"
	RecipeSourceMealflow RecipeSource = "mealflow"
	RecipeSourceBoth     RecipeSource = "both"
)

// ParseRecipeSource разбирает источник рецептов, пустое значение означает both.
func ParseRecipeSource(value string) (RecipeSource, bool) {
	switch RecipeSource(value) {
	case "", RecipeSourceBoth:
		return RecipeSourceBoth, true
	case RecipeSourceMine:
		return RecipeSourceMine, true
	case RecipeSourceMealflow:
		return RecipeSourceMealflow, true
	default:
		return "", false
	}
}

// DayPlan maps a meal type id (decimal string) to a recipe id.
type DayPlan map[string]int64

// PlanDays maps a YYYY-MM-DD date key to the day's assignments.
type PlanDays map[string]DayPlan

// Clone возвращает глубокую копию плана.
func (p PlanDays) Clone() PlanDays {
	out := make(PlanDays, len(p))
	for date, day := range p {
		copied := make(DayPlan, len(day))
		for slot, recipeID := range day {
			copied[slot] = recipeID
		}
		out[date] = copied
	}
	return out
}

type Recipe struct {
	ID            int64     `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	Title         string    `json:"title"`
	IsPublic      bool      `json:"is_public"`
	IngredientIDs []int64   `json:"ingredient_ids"`
	MealTypeIDs   []int64   `json:"meal_type_ids"`
}

type MealType struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

type MealPlan struct {
	UserID       uuid.UUID    `json:"user_id"`
	StartDate    time.Time    `json:"start_date"`
	Days         int          `json:"days"`
	Persons      int          `json:"persons"`
	RecipeSource RecipeSource `json:"recipe_source"`
	Plan         PlanDays     `json:"plan"`
	Version      int64        `json:"-"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

type ExcludedIngredient struct {
	UserID       uuid.UUID `json:"user_id"`
	IngredientID int64     `json:"ingredient_id"`
}
