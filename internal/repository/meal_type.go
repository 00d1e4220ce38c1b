package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/meal-planner/backend/internal/models"
)

type MealTypeRepository struct {
	db *pgxpool.Pool
}

// NewMealTypeRepository создает репозиторий типов блюд.
func NewMealTypeRepository(db *pgxpool.Pool) *MealTypeRepository {
	return &MealTypeRepository{db: db}
}

// ActiveMealTypes возвращает активные типы блюд в порядке отображения.
func (r *MealTypeRepository) ActiveMealTypes(ctx context.Context) ([]models.MealType, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, sort_order
		 FROM meal_types
		 WHERE is_active
		 ORDER BY sort_order, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	mealTypes := make([]models.MealType, 0)
	for rows.Next() {
		var mealType models.MealType

		if err := rows.Scan(&mealType.ID, &mealType.Name, &mealType.Order); err != nil {
			return nil, err
		}

		mealTypes = append(mealTypes, mealType)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return mealTypes, nil
}
