package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/meal-planner/backend/internal/models"
)

type MealPlanRepository struct {
	db *pgxpool.Pool
}

// NewMealPlanRepository создает репозиторий планов меню.
func NewMealPlanRepository(db *pgxpool.Pool) *MealPlanRepository {
	return &MealPlanRepository{db: db}
}

// GetPlan возвращает план пользователя; found=false, если плана нет.
func (r *MealPlanRepository) GetPlan(ctx context.Context, userID uuid.UUID) (models.MealPlan, bool, error) {
	var plan models.MealPlan
	var raw []byte

	err := r.db.QueryRow(ctx,
		`SELECT user_id, start_date, days, persons, recipe_source, plan, version, updated_at
		 FROM meal_plans
		 WHERE user_id = $1`,
		userID,
	).Scan(&plan.UserID, &plan.StartDate, &plan.Days, &plan.Persons, &plan.RecipeSource, &raw, &plan.Version, &plan.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return plan, false, nil
		}
		return plan, false, err
	}

	days, err := decodePlanDays(raw)
	if err != nil {
		return plan, false, err
	}
	plan.Plan = days

	return plan, true, nil
}

// SavePlan сохраняет план с проверкой версии.
func (r *MealPlanRepository) SavePlan(ctx context.Context, plan models.MealPlan) (models.MealPlan, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return plan, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	saved, err := savePlan(ctx, tx, plan)
	if err != nil {
		return plan, err
	}

	if err := tx.Commit(ctx); err != nil {
		return plan, err
	}

	return saved, nil
}

// SavePlanWithExclusions заменяет исключенные ингредиенты и сохраняет план в одной транзакции.
func (r *MealPlanRepository) SavePlanWithExclusions(ctx context.Context, plan models.MealPlan, ingredientIDs []int64) (models.MealPlan, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return plan, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err = replaceExclusions(ctx, tx, plan.UserID, ingredientIDs); err != nil {
		return plan, err
	}

	saved, err := savePlan(ctx, tx, plan)
	if err != nil {
		return plan, err
	}

	if err := tx.Commit(ctx); err != nil {
		return plan, err
	}

	return saved, nil
}

// GetExclusions возвращает исключенные ингредиенты пользователя.
func (r *MealPlanRepository) GetExclusions(ctx context.Context, userID uuid.UUID) ([]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT ingredient_id
		 FROM excluded_ingredients
		 WHERE user_id = $1
		 ORDER BY ingredient_id`,
		userID,
	)
	if err != nil {
		return nil, err
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// savePlan inserts a never-stored plan (Version 0) or updates the row only
// if its version still matches. A lost race is reported as ErrConflict.
func savePlan(ctx context.Context, tx pgx.Tx, plan models.MealPlan) (models.MealPlan, error) {
	raw, err := encodePlanDays(plan.Plan)
	if err != nil {
		return plan, err
	}

	if plan.Version == 0 {
		err = tx.QueryRow(ctx,
			`INSERT INTO meal_plans (user_id, start_date, days, persons, recipe_source, plan, version)
			 VALUES ($1, $2, $3, $4, $5, $6, 1)
			 ON CONFLICT (user_id) DO NOTHING
			 RETURNING version, updated_at`,
			plan.UserID, plan.StartDate, plan.Days, plan.Persons, plan.RecipeSource, raw,
		).Scan(&plan.Version, &plan.UpdatedAt)
	} else {
		err = tx.QueryRow(ctx,
			`UPDATE meal_plans
			 SET start_date = $3,
			     days = $4,
			     persons = $5,
			     recipe_source = $6,
			     plan = $7,
			     version = version + 1,
			     updated_at = NOW()
			 WHERE user_id = $1 AND version = $2
			 RETURNING version, updated_at`,
			plan.UserID, plan.Version, plan.StartDate, plan.Days, plan.Persons, plan.RecipeSource, raw,
		).Scan(&plan.Version, &plan.UpdatedAt)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return plan, ErrConflict
		}
		return plan, mapWriteError(err)
	}

	return plan, nil
}

func replaceExclusions(ctx context.Context, tx pgx.Tx, userID uuid.UUID, ingredientIDs []int64) error {
	if _, err := tx.Exec(ctx, `DELETE FROM excluded_ingredients WHERE user_id = $1`, userID); err != nil {
		return mapWriteError(err)
	}

	if len(ingredientIDs) == 0 {
		return nil
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO excluded_ingredients (user_id, ingredient_id)
		 SELECT $1, unnest($2::bigint[])
		 ON CONFLICT DO NOTHING`,
		userID, ingredientIDs,
	)
	return mapWriteError(err)
}

// mapWriteError переводит нарушения ограничений PostgreSQL в ошибки репозитория.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case "23505":
		return ErrConflict
	case "23514", "22P02":
		return fmt.Errorf("%w: %s", ErrInvalid, pgErr.ConstraintName)
	default:
		return err
	}
}

func encodePlanDays(days models.PlanDays) ([]byte, error) {
	if days == nil {
		days = models.PlanDays{}
	}

	raw, err := json.Marshal(days)
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	return raw, nil
}

func decodePlanDays(raw []byte) (models.PlanDays, error) {
	days := models.PlanDays{}
	if len(raw) == 0 {
		return days, nil
	}

	if err := json.Unmarshal(raw, &days); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}

	for key, day := range days {
		if day == nil {
			days[key] = models.DayPlan{}
		}
	}
	return days, nil
}
