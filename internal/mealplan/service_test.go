package mealplan

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/meal-planner/backend/internal/models"
)

const (
	breakfast int64 = 1
	lunch     int64 = 2
	dinner    int64 = 3
)

var errStaleVersion = errors.New("stale plan version")

type memoryCatalog struct {
	recipes []models.Recipe
	err     error
}

func (c *memoryCatalog) FindRecipes(_ context.Context, filter RecipeFilter) ([]models.Recipe, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := make([]models.Recipe, 0, len(c.recipes))
	for _, r := range c.recipes {
		owned := filter.OwnerID != nil && r.UserID == *filter.OwnerID
		public := filter.IncludePublic && r.IsPublic
		if owned || public {
			out = append(out, r)
		}
	}
	return out, nil
}

type memoryRegistry struct {
	mealTypes []models.MealType
}

func (r *memoryRegistry) ActiveMealTypes(context.Context) ([]models.MealType, error) {
	return append([]models.MealType(nil), r.mealTypes...), nil
}

type memoryStore struct {
	mu         sync.Mutex
	plans      map[uuid.UUID]models.MealPlan
	exclusions map[uuid.UUID][]int64
	saves      int
	saveErr    error
	readErr    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		plans:      make(map[uuid.UUID]models.MealPlan),
		exclusions: make(map[uuid.UUID][]int64),
	}
}

func (m *memoryStore) GetPlan(_ context.Context, userID uuid.UUID) (models.MealPlan, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan, ok := m.plans[userID]
	if !ok {
		return models.MealPlan{}, false, nil
	}
	plan.Plan = plan.Plan.Clone()
	return plan, true, nil
}

func (m *memoryStore) SavePlan(_ context.Context, plan models.MealPlan) (models.MealPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(plan)
}

func (m *memoryStore) SavePlanWithExclusions(_ context.Context, plan models.MealPlan, ids []int64) (models.MealPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved, err := m.saveLocked(plan)
	if err != nil {
		return saved, err
	}
	m.exclusions[plan.UserID] = append([]int64(nil), ids...)
	return saved, nil
}

func (m *memoryStore) saveLocked(plan models.MealPlan) (models.MealPlan, error) {
	if m.saveErr != nil {
		return models.MealPlan{}, m.saveErr
	}
	current, ok := m.plans[plan.UserID]
	if (plan.Version == 0 && ok) || (plan.Version != 0 && (!ok || current.Version != plan.Version)) {
		return models.MealPlan{}, errStaleVersion
	}
	plan.Version++
	plan.Plan = plan.Plan.Clone()
	m.plans[plan.UserID] = plan
	m.saves++
	stored := plan
	stored.Plan = plan.Plan.Clone()
	return stored, nil
}

func (m *memoryStore) GetExclusions(_ context.Context, userID uuid.UUID) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	return append([]int64(nil), m.exclusions[userID]...), nil
}

func (m *memoryStore) snapshot(userID uuid.UUID) (models.MealPlan, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan, ok := m.plans[userID]
	if ok {
		plan.Plan = plan.Plan.Clone()
	}
	return plan, ok
}

type recordingRecorder struct {
	mu          sync.Mutex
	outcomes    []string
	assignments int
}

func (r *recordingRecorder) ObserveOperation(operation, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, operation+":"+outcome)
}

func (r *recordingRecorder) AddAssignments(count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments += count
}

type fixture struct {
	userID   uuid.UUID
	catalog  *memoryCatalog
	store    *memoryStore
	recorder *recordingRecorder
	service  *Service
}

func newFixture(t *testing.T, recipes ...models.Recipe) *fixture {
	t.Helper()

	f := &fixture{
		userID:   uuid.New(),
		catalog:  &memoryCatalog{recipes: recipes},
		store:    newMemoryStore(),
		recorder: &recordingRecorder{},
	}
	registry := &memoryRegistry{mealTypes: []models.MealType{
		{ID: breakfast, Name: "Завтрак", Order: 1},
		{ID: lunch, Name: "Обед", Order: 2},
		{ID: dinner, Name: "Ужин", Order: 3},
	}}
	f.service = NewService(f.catalog, registry, f.store, Options{
		Now:      func() time.Time { return testToday.Add(10 * time.Hour) },
		Rand:     rand.New(rand.NewPCG(42, 7)),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Recorder: f.recorder,
	})
	return f
}

func (f *fixture) seed(plan models.PlanDays, source models.RecipeSource) {
	f.store.plans[f.userID] = models.MealPlan{
		UserID:       f.userID,
		Persons:      2,
		RecipeSource: source,
		Plan:         plan,
		Version:      1,
	}
}

func publicRecipe(id int64, ingredients []int64, mealTypes ...int64) models.Recipe {
	return models.Recipe{ID: id, IsPublic: true, UserID: uuid.New(), IngredientIDs: ingredients, MealTypeIDs: mealTypes}
}

func ownRecipe(owner uuid.UUID, id int64, ingredients []int64, mealTypes ...int64) models.Recipe {
	return models.Recipe{ID: id, UserID: owner, IngredientIDs: ingredients, MealTypeIDs: mealTypes}
}

func generateInput(f *fixture, offset, days int) GenerateInput {
	return GenerateInput{
		UserID:       f.userID,
		StartDate:    testToday.AddDate(0, 0, offset),
		Days:         days,
		Persons:      3,
		RecipeSource: models.RecipeSourceBoth,
	}
}

func ptr(v int64) *int64 { return &v }

func TestGenerateSingleBreakfastRecipe(t *testing.T) {
	f := newFixture(t, publicRecipe(11, []int64{1}, breakfast))

	view, err := f.service.Generate(context.Background(), generateInput(f, 0, 2))
	require.NoError(t, err)

	assert.Equal(t, models.PlanDays{
		dayKey(0): {"1": 11},
		dayKey(1): {"1": 11},
	}, view.Plan)
	assert.Equal(t, 2, view.Days)
	assert.Equal(t, dayKey(0), view.StartDate.Format(DateLayout))
	assert.Equal(t, 3, view.Persons)
	require.Len(t, view.MealTypes, 3)
	assert.Equal(t, "Завтрак", view.MealTypes[0].Name)
}

func TestGenerateNoCandidatesLeavesPlanUntouched(t *testing.T) {
	f := newFixture(t,
		publicRecipe(11, []int64{5, 6}, breakfast),
		publicRecipe(12, []int64{5}, lunch),
	)
	f.seed(models.PlanDays{dayKey(0): {"1": 99}}, models.RecipeSourceMine)
	f.store.exclusions[f.userID] = []int64{8}
	before, _ := f.store.snapshot(f.userID)

	in := generateInput(f, 0, 3)
	in.ExcludedIngredientIDs = []int64{5}
	_, err := f.service.Generate(context.Background(), in)

	require.ErrorIs(t, err, ErrNoCandidates)
	after, _ := f.store.snapshot(f.userID)
	assert.Equal(t, before, after)
	assert.Equal(t, []int64{8}, f.store.exclusions[f.userID])
	assert.Zero(t, f.store.saves)
}

func TestGenerateOutOfWindowLeavesPlanUntouched(t *testing.T) {
	f := newFixture(t, publicRecipe(11, nil, breakfast))
	f.seed(models.PlanDays{dayKey(0): {"1": 99}}, models.RecipeSourceBoth)
	before, _ := f.store.snapshot(f.userID)

	for _, in := range []GenerateInput{
		generateInput(f, -1, 1),
		generateInput(f, 15, 1),
		generateInput(f, 10, 7),
	} {
		_, err := f.service.Generate(context.Background(), in)
		require.ErrorIs(t, err, ErrOutOfWindow)

		var domainErr *Error
		require.True(t, errors.As(err, &domainErr))
		assert.NotEmpty(t, domainErr.Date)
	}

	after, _ := f.store.snapshot(f.userID)
	assert.Equal(t, before, after)
	assert.Zero(t, f.store.saves)
}

func TestGeneratePrunesAndDerivesSpan(t *testing.T) {
	f := newFixture(t, publicRecipe(11, nil, breakfast, lunch))
	f.seed(models.PlanDays{
		dayKey(-20): {"1": 1},
		dayKey(-14): {"1": 2},
		dayKey(-5):  {"1": 3},
	}, models.RecipeSourceBoth)

	view, err := f.service.Generate(context.Background(), generateInput(f, 1, 3))
	require.NoError(t, err)

	assert.NotContains(t, view.Plan, dayKey(-20))
	assert.Contains(t, view.Plan, dayKey(-14))
	assert.Contains(t, view.Plan, dayKey(-5))
	assert.Equal(t, dayKey(-14), view.StartDate.Format(DateLayout))
	assert.Equal(t, 18, view.Days)

	cutoff := testToday.AddDate(0, 0, -14)
	for key := range view.Plan {
		day, err := time.Parse(DateLayout, key)
		require.NoError(t, err)
		assert.False(t, day.Before(cutoff), "key %s is older than retention", key)
	}
}

func TestGenerateHonorsExclusions(t *testing.T) {
	recipes := []models.Recipe{
		publicRecipe(11, []int64{1, 2}, breakfast, lunch, dinner),
		publicRecipe(12, []int64{3}, breakfast, lunch, dinner),
		publicRecipe(13, []int64{4, 2}, breakfast, dinner),
		publicRecipe(14, []int64{5}, lunch),
	}
	f := newFixture(t, recipes...)
	byID := make(map[int64]models.Recipe, len(recipes))
	for _, r := range recipes {
		byID[r.ID] = r
	}

	in := generateInput(f, 0, 7)
	in.ExcludedIngredientIDs = []int64{2, 2, 5}
	view, err := f.service.Generate(context.Background(), in)
	require.NoError(t, err)

	excluded := toSet(in.ExcludedIngredientIDs)
	for date, day := range view.Plan {
		for slot, recipeID := range day {
			assert.False(t, containsAny(byID[recipeID].IngredientIDs, excluded),
				"recipe %d on %s/%s has an excluded ingredient", recipeID, date, slot)
		}
	}
	assert.Equal(t, []int64{2, 5}, f.store.exclusions[f.userID])
}

func TestGenerateRecipeSource(t *testing.T) {
	f := newFixture(t)
	f.catalog.recipes = []models.Recipe{
		ownRecipe(f.userID, 21, nil, breakfast),
		publicRecipe(31, nil, breakfast),
	}

	in := generateInput(f, 0, 3)
	in.RecipeSource = models.RecipeSourceMine
	view, err := f.service.Generate(context.Background(), in)
	require.NoError(t, err)
	for _, day := range view.Plan {
		assert.Equal(t, int64(21), day["1"])
	}

	in.RecipeSource = models.RecipeSourceMealflow
	view, err = f.service.Generate(context.Background(), in)
	require.NoError(t, err)
	for _, day := range view.Plan {
		assert.Equal(t, int64(31), day["1"])
	}
	assert.Equal(t, models.RecipeSourceMealflow, view.RecipeSource)

	in.RecipeSource = ""
	view, err = f.service.Generate(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, models.RecipeSourceBoth, view.RecipeSource)
}

func TestGenerateTwiceReplacesWindowOnly(t *testing.T) {
	f := newFixture(t,
		publicRecipe(11, nil, breakfast, lunch),
		publicRecipe(12, nil, breakfast, dinner),
		publicRecipe(13, nil, lunch, dinner),
	)
	f.seed(models.PlanDays{
		dayKey(-3): {"1": 1},
		dayKey(9):  {"2": 2},
	}, models.RecipeSourceBoth)

	in := generateInput(f, 2, 4)
	first, err := f.service.Generate(context.Background(), in)
	require.NoError(t, err)
	second, err := f.service.Generate(context.Background(), in)
	require.NoError(t, err)

	for _, key := range []string{dayKey(-3), dayKey(9)} {
		assert.Equal(t, first.Plan[key], second.Plan[key])
	}
	assert.Len(t, second.Plan, 6)
	for offset := 2; offset < 6; offset++ {
		assert.Len(t, second.Plan[dayKey(offset)], 3)
	}
}

func TestGetAbsentPlan(t *testing.T) {
	f := newFixture(t)

	_, found, err := f.service.Get(context.Background(), f.userID)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, f.store.saves)
}

func TestGetPrunesAndPersists(t *testing.T) {
	f := newFixture(t)
	plan := models.PlanDays{dayKey(-15): {"1": 1}}
	for offset := -13; offset <= 1; offset++ {
		plan[dayKey(offset)] = models.DayPlan{"1": int64(offset + 100)}
	}
	f.seed(plan, models.RecipeSourceBoth)

	view, found, err := f.service.Get(context.Background(), f.userID)
	require.NoError(t, err)
	require.True(t, found)

	assert.Contains(t, view.Plan, dayKey(-13))
	assert.NotContains(t, view.Plan, dayKey(-15))
	assert.Equal(t, dayKey(-13), view.StartDate.Format(DateLayout))
	assert.Equal(t, 15, view.Days)
	assert.Len(t, view.MealTypes, 3)

	stored, _ := f.store.snapshot(f.userID)
	assert.NotContains(t, stored.Plan, dayKey(-15))
	assert.Equal(t, 1, f.store.saves)
}

func TestGetUnchangedPlanIsNotRewritten(t *testing.T) {
	f := newFixture(t)
	f.store.plans[f.userID] = models.MealPlan{
		UserID:       f.userID,
		StartDate:    testToday,
		Days:         2,
		Persons:      2,
		RecipeSource: models.RecipeSourceBoth,
		Plan:         models.PlanDays{dayKey(0): {"1": 11}, dayKey(1): {"1": 12}},
		Version:      1,
	}

	for i := 0; i < 2; i++ {
		view, found, err := f.service.Get(context.Background(), f.userID)
		require.NoError(t, err)
		require.True(t, found)
		assert.Len(t, view.Plan, 2)
		assert.Equal(t, int64(1), view.Version)
	}
	assert.Zero(t, f.store.saves)
}

func TestGetEmptiedPlanShowsToday(t *testing.T) {
	f := newFixture(t)
	f.seed(models.PlanDays{dayKey(-30): {"1": 1}}, models.RecipeSourceBoth)

	view, found, err := f.service.Get(context.Background(), f.userID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, view.Plan)
	assert.Zero(t, view.Days)
	assert.Equal(t, dayKey(0), view.StartDate.Format(DateLayout))
}

func TestReplaceChangesSingleCell(t *testing.T) {
	f := newFixture(t,
		publicRecipe(11, nil, breakfast, lunch),
		publicRecipe(12, nil, lunch),
	)
	f.seed(models.PlanDays{
		dayKey(0): {"1": 11, "2": 11},
		dayKey(1): {"1": 11, "2": 11},
	}, models.RecipeSourceMealflow)
	before, _ := f.store.snapshot(f.userID)

	view, err := f.service.Replace(context.Background(), ReplaceInput{
		UserID:     f.userID,
		Date:       dayKey(0),
		MealTypeID: lunch,
		RecipeID:   ptr(12),
	})
	require.NoError(t, err)

	expected := before.Plan.Clone()
	expected[dayKey(0)]["2"] = 12
	assert.Equal(t, expected, view.Plan)
	assert.Equal(t, before.Persons, view.Persons)
	assert.Equal(t, before.RecipeSource, view.RecipeSource)
	assert.Equal(t, 2, view.Days)
	assert.Equal(t, 1, f.recorder.assignments)
}

func TestReplaceRandomPickStaysInPool(t *testing.T) {
	f := newFixture(t,
		publicRecipe(11, []int64{9}, lunch),
		publicRecipe(12, nil, lunch),
		publicRecipe(13, nil, breakfast),
	)
	f.seed(models.PlanDays{dayKey(0): {"2": 11}}, models.RecipeSourceBoth)
	f.store.exclusions[f.userID] = []int64{9}

	for i := 0; i < 10; i++ {
		view, err := f.service.Replace(context.Background(), ReplaceInput{UserID: f.userID, Date: dayKey(0), MealTypeID: lunch})
		require.NoError(t, err)
		assert.Equal(t, int64(12), view.Plan[dayKey(0)]["2"])
	}
}

func TestReplaceRejectsRecipeOutsideMealType(t *testing.T) {
	f := newFixture(t,
		publicRecipe(42, nil, breakfast),
		publicRecipe(43, nil, lunch),
	)
	f.seed(models.PlanDays{dayKey(0): {"2": 43}}, models.RecipeSourceBoth)
	before, _ := f.store.snapshot(f.userID)

	_, err := f.service.Replace(context.Background(), ReplaceInput{
		UserID:     f.userID,
		Date:       dayKey(0),
		MealTypeID: lunch,
		RecipeID:   ptr(42),
	})
	require.ErrorIs(t, err, ErrInvalidChoice)

	var domainErr *Error
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, int64(42), domainErr.RecipeID)
	assert.Equal(t, "2", domainErr.SlotID)

	after, _ := f.store.snapshot(f.userID)
	assert.Equal(t, before, after)
}

func TestReplacePreconditions(t *testing.T) {
	f := newFixture(t, publicRecipe(11, []int64{4}, lunch))

	_, err := f.service.Replace(context.Background(), ReplaceInput{UserID: f.userID, Date: dayKey(0), MealTypeID: lunch})
	require.ErrorIs(t, err, ErrPlanNotFound)

	f.seed(models.PlanDays{}, models.RecipeSourceBoth)
	_, err = f.service.Replace(context.Background(), ReplaceInput{UserID: f.userID, Date: dayKey(0), MealTypeID: lunch})
	require.ErrorIs(t, err, ErrPlanNotFound)

	f.seed(models.PlanDays{dayKey(0): {"2": 11}}, models.RecipeSourceBoth)
	_, err = f.service.Replace(context.Background(), ReplaceInput{UserID: f.userID, Date: dayKey(1), MealTypeID: lunch})
	require.ErrorIs(t, err, ErrDateNotInPlan)

	_, err = f.service.Replace(context.Background(), ReplaceInput{UserID: f.userID, Date: dayKey(0), MealTypeID: dinner})
	require.ErrorIs(t, err, ErrSlotNotInPlan)

	f.store.exclusions[f.userID] = []int64{4}
	_, err = f.service.Replace(context.Background(), ReplaceInput{UserID: f.userID, Date: dayKey(0), MealTypeID: lunch})
	require.ErrorIs(t, err, ErrNoCandidates)

	assert.Zero(t, f.store.saves)
}

func TestStoreFailureIsNotDomainError(t *testing.T) {
	f := newFixture(t, publicRecipe(11, nil, breakfast))
	f.store.saveErr = errors.New("connection refused")

	_, err := f.service.Generate(context.Background(), generateInput(f, 0, 1))
	require.Error(t, err)
	assert.False(t, IsDomainError(err))
	assert.ErrorIs(t, err, f.store.saveErr)

	f.catalog.err = errors.New("catalog down")
	_, err = f.service.Generate(context.Background(), generateInput(f, 0, 1))
	require.Error(t, err)
	assert.False(t, IsDomainError(err))

	assert.Equal(t, []string{"generate:error", "generate:error"}, f.recorder.outcomes)
}

func TestConcurrentGenerateForSameUser(t *testing.T) {
	f := newFixture(t,
		publicRecipe(11, nil, breakfast, lunch, dinner),
		publicRecipe(12, nil, breakfast, lunch, dinner),
	)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			_, err := f.service.Generate(context.Background(), generateInput(f, offset, 1))
			errs <- err
		}(i % 8)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	stored, ok := f.store.snapshot(f.userID)
	require.True(t, ok)
	assert.Len(t, stored.Plan, 8)
	assert.Equal(t, int64(16), stored.Version)
	assert.Zero(t, f.service.locks.size())
}

func TestSeededGenerationIsReproducible(t *testing.T) {
	recipes := []models.Recipe{
		publicRecipe(11, nil, breakfast, lunch, dinner),
		publicRecipe(12, nil, breakfast, lunch, dinner),
		publicRecipe(13, nil, breakfast, lunch, dinner),
	}
	a := newFixture(t, recipes...)
	b := newFixture(t, recipes...)
	b.userID = a.userID

	first, err := a.service.Generate(context.Background(), generateInput(a, 0, 7))
	require.NoError(t, err)
	second, err := b.service.Generate(context.Background(), generateInput(b, 0, 7))
	require.NoError(t, err)

	assert.Equal(t, first.Plan, second.Plan)
}

func TestGenerateUsesRegistryOverStaleView(t *testing.T) {
	f := newFixture(t, publicRecipe(11, nil, breakfast, lunch))
	registry := &memoryRegistry{mealTypes: []models.MealType{{ID: breakfast, Name: "Завтрак", Order: 1}}}
	stale := &memoryRegistry{mealTypes: []models.MealType{
		{ID: breakfast, Name: "Завтрак", Order: 1},
		{ID: lunch, Name: "Обед", Order: 2},
	}}
	service := NewService(f.catalog, registry, f.store, Options{
		Now:          func() time.Time { return testToday },
		Rand:         rand.New(rand.NewPCG(1, 2)),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		MealTypeView: stale,
	})

	view, err := service.Generate(context.Background(), generateInput(f, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, models.PlanDays{
		dayKey(0): {"1": 11},
		dayKey(1): {"1": 11},
	}, view.Plan)
	assert.Len(t, view.MealTypes, 1)

	current, found, err := service.Get(context.Background(), f.userID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, current.MealTypes, 2)
}

func TestExclusionsFailureIsObserved(t *testing.T) {
	f := newFixture(t)
	f.store.readErr = errors.New("connection reset")

	_, err := f.service.Exclusions(context.Background(), f.userID)
	require.Error(t, err)
	assert.ErrorIs(t, err, f.store.readErr)
	assert.Equal(t, []string{"exclusions:error"}, f.recorder.outcomes)
}
