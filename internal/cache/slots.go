package cache

import (
	"context"
	"log/slog"
	"time"

	"example.com/meal-planner/backend/internal/mealplan"
	"example.com/meal-planner/backend/internal/models"
)

const activeMealTypesKey = "meal_planner:meal_types:active"

// LookupObserver учитывает попадания в кеш; metrics.Recorder реализует его.
type LookupObserver interface {
	ObserveCacheLookup(hit bool)
}

// SlotCache кеширует список активных типов блюд поверх реестра.
// Ошибки Redis не прерывают запрос: данные читаются из реестра напрямую.
type SlotCache struct {
	cache    *Cache
	next     mealplan.SlotRegistry
	ttl      time.Duration
	logger   *slog.Logger
	observer LookupObserver
}

// NewSlotCache создает кеширующую обертку над реестром типов блюд.
func NewSlotCache(cache *Cache, next mealplan.SlotRegistry, ttl time.Duration, logger *slog.Logger, observer LookupObserver) *SlotCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlotCache{
		cache:    cache,
		next:     next,
		ttl:      ttl,
		logger:   logger,
		observer: observer,
	}
}

// ActiveMealTypes возвращает типы блюд из кеша или из реестра.
func (s *SlotCache) ActiveMealTypes(ctx context.Context) ([]models.MealType, error) {
	var cached []models.MealType
	found, err := s.cache.Get(ctx, activeMealTypesKey, &cached)
	if err != nil {
		s.logger.Warn("meal type cache read failed", slog.String("error", err.Error()))
	}
	s.observe(found && err == nil)
	if found && err == nil {
		return cached, nil
	}

	mealTypes, err := s.next.ActiveMealTypes(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, activeMealTypesKey, mealTypes, s.ttl); err != nil {
		s.logger.Warn("meal type cache write failed", slog.String("error", err.Error()))
	}

	return mealTypes, nil
}

// Invalidate сбрасывает закешированный список типов блюд.
func (s *SlotCache) Invalidate(ctx context.Context) error {
	return s.cache.Invalidate(ctx, activeMealTypesKey)
}

func (s *SlotCache) observe(hit bool) {
	if s.observer != nil {
		s.observer.ObserveCacheLookup(hit)
	}
}
