package mealplan

import (
	"sort"
	"time"

	"example.com/meal-planner/backend/internal/models"
)

// DateLayout is the format of plan date keys.
const DateLayout = "2006-01-02"

// window is an inclusive range of calendar days, both ends at UTC midnight.
type window struct {
	start time.Time
	end   time.Time
	days  int
}

func (w window) contains(day time.Time) bool {
	return !day.Before(w.start) && !day.After(w.end)
}

func (w window) keys() []string {
	keys := make([]string, 0, w.days)
	for i := 0; i < w.days; i++ {
		keys = append(keys, w.start.AddDate(0, 0, i).Format(DateLayout))
	}
	return keys
}

// calendarDay drops the clock part, keeping the date as seen in t's location.
func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

// resolveWindow проверяет, что запрошенный период лежит в [today, today+horizon].
func resolveWindow(today, start time.Time, days, horizonDays int) (window, error) {
	startDay := calendarDay(start)
	maxDay := today.AddDate(0, 0, horizonDays)

	if days < 1 {
		return window{}, outOfWindow("days must be at least 1", startDay.Format(DateLayout))
	}
	if startDay.Before(today) {
		return window{}, outOfWindow("start date is in the past", startDay.Format(DateLayout))
	}
	if startDay.After(maxDay) {
		return window{}, outOfWindow("start date is beyond the planning horizon", startDay.Format(DateLayout))
	}

	endDay := startDay.AddDate(0, 0, days-1)
	if endDay.After(maxDay) {
		return window{}, outOfWindow("plan ends beyond the planning horizon", endDay.Format(DateLayout))
	}

	return window{start: startDay, end: endDay, days: days}, nil
}

// mergeWindow drops every existing day inside w and unions in fresh.
// Neither input is modified.
func mergeWindow(existing, fresh models.PlanDays, w window) models.PlanDays {
	merged := make(models.PlanDays, len(existing)+len(fresh))
	for key, day := range existing.Clone() {
		parsed, err := time.Parse(DateLayout, key)
		if err == nil && w.contains(parsed) {
			continue
		}
		merged[key] = day
	}
	for key, day := range fresh.Clone() {
		merged[key] = day
	}
	return merged
}

// prune оставляет только дни не старше cutoff. Ключи, которые не
// разбираются как дата, тоже отбрасываются.
func prune(plan models.PlanDays, cutoff time.Time) models.PlanDays {
	kept := make(models.PlanDays, len(plan))
	for key, day := range plan.Clone() {
		parsed, err := time.Parse(DateLayout, key)
		if err != nil || parsed.Before(cutoff) {
			continue
		}
		kept[key] = day
	}
	return kept
}

// deriveSpan returns min(keys) and the inclusive day count up to max(keys).
// ok is false for an empty plan.
func deriveSpan(plan models.PlanDays) (start time.Time, days int, ok bool) {
	dates := make([]time.Time, 0, len(plan))
	for key := range plan {
		parsed, err := time.Parse(DateLayout, key)
		if err != nil {
			continue
		}
		dates = append(dates, parsed)
	}
	if len(dates) == 0 {
		return time.Time{}, 0, false
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	first, last := dates[0], dates[len(dates)-1]
	return first, daysBetween(first, last) + 1, true
}
