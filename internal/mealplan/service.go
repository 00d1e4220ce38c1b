package mealplan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"example.com/meal-planner/backend/internal/models"
)

const (
	DefaultHorizonDays   = 14
	DefaultRetentionDays = 14
)

// RecipeCatalog returns candidate recipes with their ingredient and meal type sets.
type RecipeCatalog interface {
	FindRecipes(ctx context.Context, filter RecipeFilter) ([]models.Recipe, error)
}

// SlotRegistry returns the active meal types ordered for display.
type SlotRegistry interface {
	ActiveMealTypes(ctx context.Context) ([]models.MealType, error)
}

// PlanStore persists plans and exclusion sets. A plan with Version 0 has
// never been stored; saving it creates the record.
type PlanStore interface {
	GetPlan(ctx context.Context, userID uuid.UUID) (models.MealPlan, bool, error)
	SavePlan(ctx context.Context, plan models.MealPlan) (models.MealPlan, error)
	// SavePlanWithExclusions replaces the user's exclusion set and saves the
	// plan in one transaction.
	SavePlanWithExclusions(ctx context.Context, plan models.MealPlan, ingredientIDs []int64) (models.MealPlan, error)
	GetExclusions(ctx context.Context, userID uuid.UUID) ([]int64, error)
}

// Recorder receives operation outcomes; metrics.Recorder implements it.
type Recorder interface {
	ObserveOperation(operation, outcome string, duration time.Duration)
	AddAssignments(count int)
}

type Options struct {
	HorizonDays   int
	RetentionDays int
	// MealTypeView serves the meal type list attached to Get and Replace
	// responses and may lag behind the registry. Generate always reads the
	// registry. Defaults to the registry.
	MealTypeView SlotRegistry
	Now           func() time.Time
	Rand          *rand.Rand
	Logger        *slog.Logger
	Recorder      Recorder
}

// PlanView is a stored plan with the current meal type projection attached.
type PlanView struct {
	models.MealPlan
	MealTypes []models.MealType
}

type GenerateInput struct {
	UserID                uuid.UUID
	StartDate             time.Time
	Days                  int
	Persons               int
	ExcludedIngredientIDs []int64
	RecipeSource          models.RecipeSource
}

type ReplaceInput struct {
	UserID     uuid.UUID
	Date       string
	MealTypeID int64
	// RecipeID pins the replacement; nil picks at random.
	RecipeID *int64
}

type Service struct {
	recipes       RecipeCatalog
	mealTypes     SlotRegistry
	mealTypeView  SlotRegistry
	plans         PlanStore
	logger        *slog.Logger
	recorder      Recorder
	now           func() time.Time
	picker        *picker
	locks         *userLocks
	horizonDays   int
	retentionDays int
}

// NewService собирает движок планирования меню.
func NewService(recipes RecipeCatalog, mealTypes SlotRegistry, plans PlanStore, opts Options) *Service {
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = DefaultHorizonDays
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = DefaultRetentionDays
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.MealTypeView == nil {
		opts.MealTypeView = mealTypes
	}

	return &Service{
		recipes:       recipes,
		mealTypes:     mealTypes,
		mealTypeView:  opts.MealTypeView,
		plans:         plans,
		logger:        opts.Logger,
		recorder:      opts.Recorder,
		now:           opts.Now,
		picker:        newPicker(opts.Rand),
		locks:         newUserLocks(),
		horizonDays:   opts.HorizonDays,
		retentionDays: opts.RetentionDays,
	}
}

// loaded is the upsert result: the stored plan, or a fresh one when absent.
type loaded struct {
	plan    models.MealPlan
	created bool
}

// Generate составляет меню на запрошенный период и вливает его в текущий план.
func (s *Service) Generate(ctx context.Context, in GenerateInput) (view PlanView, err error) {
	started := s.now()
	defer func() { s.observe("generate", started, err) }()

	today := calendarDay(s.now().UTC())
	w, err := resolveWindow(today, in.StartDate, in.Days, s.horizonDays)
	if err != nil {
		return PlanView{}, err
	}

	source := in.RecipeSource
	if source == "" {
		source = models.RecipeSourceBoth
	}

	unlock := s.locks.lock(in.UserID)
	defer unlock()

	current, err := s.loadOrCreate(ctx, in.UserID)
	if err != nil {
		return PlanView{}, err
	}

	exclusions := uniqueIDs(in.ExcludedIngredientIDs)
	pool, err := s.candidates(ctx, in.UserID, source, toSet(exclusions))
	if err != nil {
		return PlanView{}, err
	}
	if len(pool) == 0 {
		return PlanView{}, &Error{Kind: ErrNoCandidates, Detail: "no recipes left after applying source and exclusions"}
	}

	mealTypes, err := s.mealTypes.ActiveMealTypes(ctx)
	if err != nil {
		return PlanView{}, fmt.Errorf("load meal types: %w", err)
	}

	fresh := s.picker.allocate(w, mealTypes, pool)

	plan := current.plan
	plan.Plan = prune(mergeWindow(plan.Plan, fresh, w), s.cutoff(today))
	if start, days, ok := deriveSpan(plan.Plan); ok {
		plan.StartDate, plan.Days = start, days
	} else {
		plan.StartDate, plan.Days = w.start, w.days
	}
	plan.Persons = in.Persons
	plan.RecipeSource = source

	saved, err := s.plans.SavePlanWithExclusions(ctx, plan, exclusions)
	if err != nil {
		return PlanView{}, fmt.Errorf("save meal plan: %w", err)
	}

	s.recorder.AddAssignments(countAssignments(fresh))
	s.logger.InfoContext(ctx, "meal plan generated",
		slog.String("user_id", in.UserID.String()),
		slog.String("start_date", w.start.Format(DateLayout)),
		slog.Int("days", w.days),
		slog.Bool("created", current.created),
	)

	return PlanView{MealPlan: saved, MealTypes: mealTypes}, nil
}

// Get возвращает план пользователя, предварительно удалив устаревшие дни.
// found is false when the user has no plan.
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (view PlanView, found bool, err error) {
	started := s.now()
	defer func() { s.observe("get", started, err) }()

	unlock := s.locks.lock(userID)
	defer unlock()

	plan, found, err := s.plans.GetPlan(ctx, userID)
	if err != nil {
		return PlanView{}, false, fmt.Errorf("load meal plan: %w", err)
	}
	if !found {
		return PlanView{}, false, nil
	}

	saved := plan
	plan = s.refresh(plan)
	if changed(saved, plan) {
		saved, err = s.plans.SavePlan(ctx, plan)
		if err != nil {
			return PlanView{}, false, fmt.Errorf("save meal plan: %w", err)
		}
	}

	mealTypes, err := s.mealTypeView.ActiveMealTypes(ctx)
	if err != nil {
		return PlanView{}, false, fmt.Errorf("load meal types: %w", err)
	}

	return PlanView{MealPlan: saved, MealTypes: mealTypes}, true, nil
}

// Replace подбирает новый рецепт для одного приема пищи в одном дне.
func (s *Service) Replace(ctx context.Context, in ReplaceInput) (view PlanView, err error) {
	started := s.now()
	defer func() { s.observe("replace", started, err) }()

	unlock := s.locks.lock(in.UserID)
	defer unlock()

	plan, found, err := s.plans.GetPlan(ctx, in.UserID)
	if err != nil {
		return PlanView{}, fmt.Errorf("load meal plan: %w", err)
	}
	if found {
		plan = s.refresh(plan)
	}
	if !found || len(plan.Plan) == 0 {
		return PlanView{}, &Error{Kind: ErrPlanNotFound}
	}

	slot := slotKey(in.MealTypeID)
	day, ok := plan.Plan[in.Date]
	if !ok {
		return PlanView{}, &Error{Kind: ErrDateNotInPlan, Date: in.Date}
	}
	if _, ok := day[slot]; !ok {
		return PlanView{}, &Error{Kind: ErrSlotNotInPlan, Date: in.Date, SlotID: slot}
	}

	exclusions, err := s.plans.GetExclusions(ctx, in.UserID)
	if err != nil {
		return PlanView{}, fmt.Errorf("load excluded ingredients: %w", err)
	}

	pool, err := s.candidates(ctx, in.UserID, plan.RecipeSource, toSet(exclusions))
	if err != nil {
		return PlanView{}, err
	}
	pool = forMealType(pool, in.MealTypeID)

	var chosen models.Recipe
	switch {
	case in.RecipeID != nil:
		matched := false
		for _, recipe := range pool {
			if recipe.ID == *in.RecipeID {
				chosen, matched = recipe, true
				break
			}
		}
		if !matched {
			return PlanView{}, &Error{Kind: ErrInvalidChoice, Date: in.Date, SlotID: slot, RecipeID: *in.RecipeID}
		}
	case len(pool) == 0:
		return PlanView{}, &Error{Kind: ErrNoCandidates, Detail: "no replacement satisfies the constraints", Date: in.Date, SlotID: slot}
	default:
		chosen = s.picker.pick(pool)
	}

	next := plan.Plan.Clone()
	next[in.Date][slot] = chosen.ID
	plan.Plan = next
	if start, days, ok := deriveSpan(plan.Plan); ok {
		plan.StartDate, plan.Days = start, days
	}

	saved, err := s.plans.SavePlan(ctx, plan)
	if err != nil {
		return PlanView{}, fmt.Errorf("save meal plan: %w", err)
	}

	mealTypes, err := s.mealTypeView.ActiveMealTypes(ctx)
	if err != nil {
		return PlanView{}, fmt.Errorf("load meal types: %w", err)
	}

	s.recorder.AddAssignments(1)
	s.logger.InfoContext(ctx, "meal plan recipe replaced",
		slog.String("user_id", in.UserID.String()),
		slog.String("date", in.Date),
		slog.String("meal_type_id", slot),
		slog.Int64("recipe_id", chosen.ID),
	)

	return PlanView{MealPlan: saved, MealTypes: mealTypes}, nil
}

// Exclusions возвращает сохраненный список исключенных ингредиентов.
func (s *Service) Exclusions(ctx context.Context, userID uuid.UUID) (ids []int64, err error) {
	started := s.now()
	defer func() { s.observe("exclusions", started, err) }()

	ids, err = s.plans.GetExclusions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load excluded ingredients: %w", err)
	}
	return ids, nil
}

func (s *Service) loadOrCreate(ctx context.Context, userID uuid.UUID) (loaded, error) {
	plan, found, err := s.plans.GetPlan(ctx, userID)
	if err != nil {
		return loaded{}, fmt.Errorf("load meal plan: %w", err)
	}
	if found {
		return loaded{plan: plan}, nil
	}

	return loaded{
		plan:    models.MealPlan{UserID: userID, Plan: models.PlanDays{}},
		created: true,
	}, nil
}

func (s *Service) candidates(ctx context.Context, userID uuid.UUID, source models.RecipeSource, excluded map[int64]struct{}) ([]models.Recipe, error) {
	recipes, err := s.recipes.FindRecipes(ctx, filterForSource(userID, source))
	if err != nil {
		return nil, fmt.Errorf("load recipes: %w", err)
	}
	return withoutExcluded(recipes, excluded), nil
}

// refresh prunes stale days and re-derives the span; an emptied plan
// shows today with zero days.
func (s *Service) refresh(plan models.MealPlan) models.MealPlan {
	today := calendarDay(s.now().UTC())
	plan.Plan = prune(plan.Plan, s.cutoff(today))
	if start, days, ok := deriveSpan(plan.Plan); ok {
		plan.StartDate, plan.Days = start, days
	} else {
		plan.StartDate, plan.Days = today, 0
	}
	return plan
}

// changed reports whether refresh dropped days or moved the span.
func changed(stored, refreshed models.MealPlan) bool {
	return len(stored.Plan) != len(refreshed.Plan) ||
		stored.Days != refreshed.Days ||
		!calendarDay(stored.StartDate).Equal(refreshed.StartDate)
}

func (s *Service) cutoff(today time.Time) time.Time {
	return today.AddDate(0, 0, -s.retentionDays)
}

func (s *Service) observe(operation string, started time.Time, err error) {
	s.recorder.ObserveOperation(operation, outcome(err), s.now().Sub(started))
	if err != nil && !IsDomainError(err) {
		s.logger.Error("meal plan operation failed",
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrOutOfWindow):
		return "out_of_window"
	case errors.Is(err, ErrNoCandidates):
		return "no_candidates"
	case errors.Is(err, ErrPlanNotFound):
		return "plan_not_found"
	case errors.Is(err, ErrDateNotInPlan):
		return "date_not_in_plan"
	case errors.Is(err, ErrSlotNotInPlan):
		return "slot_not_in_plan"
	case errors.Is(err, ErrInvalidChoice):
		return "invalid_choice"
	default:
		return "error"
	}
}

func countAssignments(plan models.PlanDays) int {
	total := 0
	for _, day := range plan {
		total += len(day)
	}
	return total
}

// ParseDateKey проверяет ключ даты плана.
func ParseDateKey(value string) (time.Time, error) {
	parsed, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return parsed, nil
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string, time.Duration) {}
func (nopRecorder) AddAssignments(int)                             {}
