package mealplan

import (
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/meal-planner/backend/internal/models"
)

// RecipeFilter selects which recipes the catalog returns. A nil OwnerID
// with IncludePublic returns the public catalog only.
type RecipeFilter struct {
	OwnerID       *uuid.UUID
	IncludePublic bool
}

func filterForSource(userID uuid.UUID, source models.RecipeSource) RecipeFilter {
	switch source {
	case models.RecipeSourceMine:
		return RecipeFilter{OwnerID: &userID}
	case models.RecipeSourceMealflow:
		return RecipeFilter{IncludePublic: true}
	default:
		return RecipeFilter{OwnerID: &userID, IncludePublic: true}
	}
}

func toSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// uniqueIDs сохраняет порядок первого появления и убирает дубли.
func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// withoutExcluded drops every recipe that has at least one excluded ingredient.
func withoutExcluded(recipes []models.Recipe, excluded map[int64]struct{}) []models.Recipe {
	out := make([]models.Recipe, 0, len(recipes))
	for _, recipe := range recipes {
		if containsAny(recipe.IngredientIDs, excluded) {
			continue
		}
		out = append(out, recipe)
	}
	return out
}

func containsAny(ids []int64, set map[int64]struct{}) bool {
	for _, id := range ids {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

func forMealType(recipes []models.Recipe, mealTypeID int64) []models.Recipe {
	out := make([]models.Recipe, 0, len(recipes))
	for _, recipe := range recipes {
		for _, id := range recipe.MealTypeIDs {
			if id == mealTypeID {
				out = append(out, recipe)
				break
			}
		}
	}
	return out
}

func slotKey(mealTypeID int64) string {
	return strconv.FormatInt(mealTypeID, 10)
}

// picker is a uniform chooser over an injected source. *rand.Rand is not
// safe for concurrent use, so draws are serialized.
type picker struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func newPicker(rnd *rand.Rand) *picker {
	if rnd == nil {
		seed := uint64(time.Now().UnixNano())
		rnd = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &picker{rnd: rnd}
}

func (p *picker) pick(candidates []models.Recipe) models.Recipe {
	p.mu.Lock()
	defer p.mu.Unlock()
	return candidates[p.rnd.IntN(len(candidates))]
}

// allocate assigns one recipe per (day, meal type). A meal type without
// candidates is left out of the day; the day key is still present.
func (p *picker) allocate(w window, mealTypes []models.MealType, pool []models.Recipe) models.PlanDays {
	byType := make(map[int64][]models.Recipe, len(mealTypes))
	for _, mt := range mealTypes {
		byType[mt.ID] = forMealType(pool, mt.ID)
	}

	plan := make(models.PlanDays, w.days)
	for _, key := range w.keys() {
		day := make(models.DayPlan, len(mealTypes))
		for _, mt := range mealTypes {
			candidates := byType[mt.ID]
			if len(candidates) == 0 {
				continue
			}
			day[slotKey(mt.ID)] = p.pick(candidates).ID
		}
		plan[key] = day
	}
	return plan
}
