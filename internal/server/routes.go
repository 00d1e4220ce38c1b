package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"example.com/meal-planner/backend/internal/handlers"
)

func registerRoutes(
	e *echo.Echo,
	healthHandler *handlers.HealthHandler,
	mealPlanHandler *handlers.MealPlanHandler,
	notificationHandler *handlers.NotificationHandler,
	metricsHandler http.Handler,
	metricsPath string,
	authMiddleware echo.MiddlewareFunc,
	mealPlanRateLimiter echo.MiddlewareFunc,
) {
	e.GET("/health", healthHandler.Health)
	if metricsHandler != nil {
		e.GET(metricsPath, echo.WrapHandler(metricsHandler))
	}

	api := e.Group("/api/v1")

	planner := api.Group("/meal-planner", authMiddleware)
	planner.POST("/generate", mealPlanHandler.Generate, mealPlanRateLimiter)
	planner.GET("/current", mealPlanHandler.Current)
	planner.POST("/replace-recipe", mealPlanHandler.ReplaceRecipe, mealPlanRateLimiter)
	planner.GET("/excluded-ingredients", mealPlanHandler.ExcludedIngredients)

	notifications := api.Group("/notifications", authMiddleware)
	notifications.GET("/stream", notificationHandler.Stream)
}
