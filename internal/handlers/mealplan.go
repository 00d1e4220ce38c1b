package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"example.com/meal-planner/backend/internal/auth"
	"example.com/meal-planner/backend/internal/mealplan"
	"example.com/meal-planner/backend/internal/models"
	"example.com/meal-planner/backend/internal/notifications"
	"example.com/meal-planner/backend/internal/repository"
)

const defaultMaxDays = 7

// MealPlanner is the engine behind the meal planner routes.
type MealPlanner interface {
	Generate(ctx context.Context, in mealplan.GenerateInput) (mealplan.PlanView, error)
	Get(ctx context.Context, userID uuid.UUID) (mealplan.PlanView, bool, error)
	Replace(ctx context.Context, in mealplan.ReplaceInput) (mealplan.PlanView, error)
	Exclusions(ctx context.Context, userID uuid.UUID) ([]int64, error)
}

type MealPlanHandler struct {
	Planner  MealPlanner
	Notifier *notifications.Hub
	MaxDays  int
}

// NewMealPlanHandler создает обработчик планировщика меню.
func NewMealPlanHandler(planner MealPlanner, notifier *notifications.Hub, maxDays int) *MealPlanHandler {
	if maxDays <= 0 {
		maxDays = defaultMaxDays
	}
	return &MealPlanHandler{Planner: planner, Notifier: notifier, MaxDays: maxDays}
}

type GenerateRequest struct {
	StartDate           string  `json:"start_date" validate:"required"`
	Days                int     `json:"days" validate:"gte=1"`
	Persons             int     `json:"persons" validate:"gte=1"`
	ExcludedIngredients []int64 `json:"excluded_ingredients" validate:"omitempty,dive,gt=0"`
	RecipeSource        string  `json:"recipe_source" validate:"omitempty,oneof=mine mealflow both"`
}

type ReplaceRequest struct {
	Date        string `json:"date"`
	MealTypeID  *int64 `json:"meal_type_id"`
	NewRecipeID *int64 `json:"new_recipe_id" validate:"omitempty,gt=0"`
}

type MealTypeResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

type MealPlanResponse struct {
	UserID       uuid.UUID           `json:"user_id"`
	StartDate    *string             `json:"start_date"`
	Days         int                 `json:"days"`
	Persons      int                 `json:"persons"`
	RecipeSource models.RecipeSource `json:"recipe_source"`
	Plan         models.PlanDays     `json:"plan"`
	MealTypes    []MealTypeResponse  `json:"meal_types"`
	UpdatedAt    *time.Time          `json:"updated_at,omitempty"`
}

// Generate составляет меню на период и объединяет его с текущим планом.
func (h *MealPlanHandler) Generate(c echo.Context) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	var req GenerateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, "validation failed")
	}
	if req.Days > h.MaxDays {
		return badRequest(c, fmt.Sprintf("maximum period is %d days", h.MaxDays))
	}

	startDate, err := parseStartDate(req.StartDate)
	if err != nil {
		return badRequest(c, err.Error())
	}

	source, ok := models.ParseRecipeSource(req.RecipeSource)
	if !ok {
		return badRequest(c, "invalid recipe_source")
	}

	view, err := h.Planner.Generate(c.Request().Context(), mealplan.GenerateInput{
		UserID:                userID,
		StartDate:             startDate,
		Days:                  req.Days,
		Persons:               req.Persons,
		ExcludedIngredientIDs: req.ExcludedIngredients,
		RecipeSource:          source,
	})
	if err != nil {
		return h.planError(c, err)
	}

	response := toMealPlanResponse(view)
	h.publish(userID, "generated", response)
	return c.JSON(http.StatusOK, response)
}

// Current возвращает текущий план; при его отсутствии отдает пустой план.
func (h *MealPlanHandler) Current(c echo.Context) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	view, found, err := h.Planner.Get(c.Request().Context(), userID)
	if err != nil {
		return h.planError(c, err)
	}
	if !found {
		return c.JSON(http.StatusOK, emptyMealPlanResponse(userID))
	}

	return c.JSON(http.StatusOK, toMealPlanResponse(view))
}

// ReplaceRecipe заменяет рецепт в одном приеме пищи.
func (h *MealPlanHandler) ReplaceRecipe(c echo.Context) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	var req ReplaceRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, "validation failed")
	}

	date := strings.TrimSpace(req.Date)
	if date == "" || req.MealTypeID == nil {
		return badRequest(c, "date and meal_type_id are required")
	}
	if _, err := mealplan.ParseDateKey(date); err != nil {
		return badRequest(c, "date must be in YYYY-MM-DD format")
	}

	view, err := h.Planner.Replace(c.Request().Context(), mealplan.ReplaceInput{
		UserID:     userID,
		Date:       date,
		MealTypeID: *req.MealTypeID,
		RecipeID:   req.NewRecipeID,
	})
	if err != nil {
		return h.planError(c, err)
	}

	response := toMealPlanResponse(view)
	h.publish(userID, "recipe_replaced", response)
	return c.JSON(http.StatusOK, response)
}

// ExcludedIngredients возвращает сохраненные исключения пользователя.
func (h *MealPlanHandler) ExcludedIngredients(c echo.Context) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	ids, err := h.Planner.Exclusions(c.Request().Context(), userID)
	if err != nil {
		return serverError(c)
	}

	response := make([]models.ExcludedIngredient, 0, len(ids))
	for _, id := range ids {
		response = append(response, models.ExcludedIngredient{UserID: userID, IngredientID: id})
	}

	return c.JSON(http.StatusOK, response)
}

func (h *MealPlanHandler) planError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, mealplan.ErrPlanNotFound):
		return notFound(c, err.Error())
	case mealplan.IsDomainError(err):
		return badRequest(c, err.Error())
	case errors.Is(err, repository.ErrInvalid):
		return badRequest(c, "meal plan violates storage constraints")
	case errors.Is(err, repository.ErrConflict):
		return conflict(c, "meal plan was changed by another request, retry")
	default:
		return serverError(c)
	}
}

func (h *MealPlanHandler) publish(userID uuid.UUID, reason string, response MealPlanResponse) {
	startDate := ""
	if response.StartDate != nil {
		startDate = *response.StartDate
	}
	publishMealPlanUpdate(h.Notifier, userID, reason, startDate, response.Days)
}

// parseStartDate accepts a bare date or an RFC 3339 timestamp; the
// calendar date is taken in the timestamp's own offset.
func parseStartDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if parsed, err := time.Parse(mealplan.DateLayout, value); err == nil {
		return parsed, nil
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed, nil
	}
	return time.Time{}, fmt.Errorf("start_date must be YYYY-MM-DD or RFC 3339")
}

func toMealPlanResponse(view mealplan.PlanView) MealPlanResponse {
	plan := view.Plan
	if plan == nil {
		plan = models.PlanDays{}
	}

	startDate := view.StartDate.Format(mealplan.DateLayout)
	response := MealPlanResponse{
		UserID:       view.UserID,
		StartDate:    &startDate,
		Days:         view.Days,
		Persons:      view.Persons,
		RecipeSource: view.RecipeSource,
		Plan:         plan,
		MealTypes:    toMealTypeResponses(view.MealTypes),
	}
	if !view.UpdatedAt.IsZero() {
		updatedAt := view.UpdatedAt
		response.UpdatedAt = &updatedAt
	}
	return response
}

func emptyMealPlanResponse(userID uuid.UUID) MealPlanResponse {
	return MealPlanResponse{
		UserID:       userID,
		RecipeSource: models.RecipeSourceBoth,
		Plan:         models.PlanDays{},
		MealTypes:    []MealTypeResponse{},
	}
}

func toMealTypeResponses(mealTypes []models.MealType) []MealTypeResponse {
	response := make([]MealTypeResponse, 0, len(mealTypes))
	for _, mealType := range mealTypes {
		response = append(response, MealTypeResponse{ID: mealType.ID, Name: mealType.Name, Order: mealType.Order})
	}
	return response
}
