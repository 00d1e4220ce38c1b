package mealplan

import (
	"errors"
	"fmt"
	"strings"
)

// Kinds of domain failures. Each is returned wrapped in *Error, so callers
// match with errors.Is and read the details with errors.As.
var (
	ErrOutOfWindow   = errors.New("requested dates are outside the planning window")
	ErrNoCandidates  = errors.New("no recipes available")
	ErrPlanNotFound  = errors.New("meal plan not found or empty")
	ErrDateNotInPlan = errors.New("date is not part of the meal plan")
	ErrSlotNotInPlan = errors.New("meal type is not planned for this date")
	ErrInvalidChoice = errors.New("recipe is not available or violates constraints")
)

// Error описывает доменную ошибку планировщика с контекстом запроса.
type Error struct {
	Kind     error
	Detail   string
	Date     string
	SlotID   string
	RecipeID int64
}

func (e *Error) Error() string {
	parts := []string{e.Kind.Error()}
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
	if e.Date != "" {
		parts = append(parts, "date="+e.Date)
	}
	if e.SlotID != "" {
		parts = append(parts, "meal_type_id="+e.SlotID)
	}
	if e.RecipeID != 0 {
		parts = append(parts, fmt.Sprintf("recipe_id=%d", e.RecipeID))
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// IsDomainError сообщает, является ли ошибка ошибкой некорректного запроса.
func IsDomainError(err error) bool {
	var domainErr *Error
	return errors.As(err, &domainErr)
}

func outOfWindow(detail, date string) error {
	return &Error{Kind: ErrOutOfWindow, Detail: detail, Date: date}
}
