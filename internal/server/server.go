package server

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"example.com/meal-planner/backend/internal/auth"
	"example.com/meal-planner/backend/internal/cache"
	"example.com/meal-planner/backend/internal/config"
	"example.com/meal-planner/backend/internal/handlers"
	"example.com/meal-planner/backend/internal/mealplan"
	"example.com/meal-planner/backend/internal/metrics"
	"example.com/meal-planner/backend/internal/notifications"
	"example.com/meal-planner/backend/internal/repository"
)

// Deps are the process-wide resources the server is built on. Cache and
// Metrics are optional.
type Deps struct {
	DB      *pgxpool.Pool
	Cache   *cache.Cache
	Metrics *metrics.Recorder
	Rand    *rand.Rand
}

// New собирает HTTP-сервер Echo с роутами и зависимостями.
func New(cfg config.Config, logger *slog.Logger, deps Deps) *echo.Echo {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))
	if len(cfg.Server.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.Server.CORSOrigins,
			AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType},
		}))
	}

	var recorder mealplan.Recorder
	var observer cache.LookupObserver
	if deps.Metrics != nil {
		e.Use(deps.Metrics.Middleware())
		recorder = deps.Metrics
		observer = deps.Metrics
	}

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.AccessTokenTTL)
	recipeRepo := repository.NewRecipeRepository(deps.DB)
	planRepo := repository.NewMealPlanRepository(deps.DB)

	mealTypeRepo := repository.NewMealTypeRepository(deps.DB)
	var mealTypeView mealplan.SlotRegistry = mealTypeRepo
	if deps.Cache != nil {
		mealTypeView = cache.NewSlotCache(deps.Cache, mealTypeRepo, cfg.MealPlan.SlotCacheTTL, logger, observer)
	}

	planner := mealplan.NewService(recipeRepo, mealTypeRepo, planRepo, mealplan.Options{
		HorizonDays:   cfg.MealPlan.HorizonDays,
		RetentionDays: cfg.MealPlan.RetentionDays,
		MealTypeView:  mealTypeView,
		Rand:          deps.Rand,
		Logger:        logger,
		Recorder:      recorder,
	})

	notificationHub := notifications.NewHub(notifications.DefaultBuffer)
	mealPlanHandler := handlers.NewMealPlanHandler(planner, notificationHub, cfg.MealPlan.MaxDays)
	notificationHandler := handlers.NewNotificationHandler(notificationHub)

	checks := map[string]handlers.Pinger{}
	if deps.DB != nil {
		checks["postgres"] = deps.DB
	}
	if deps.Cache != nil {
		checks["redis"] = deps.Cache
	}
	healthHandler := handlers.NewHealthHandler(checks)

	var metricsHandler http.Handler
	if deps.Metrics != nil && cfg.Metrics.Enabled {
		metricsHandler = deps.Metrics.Handler()
	}

	registerRoutes(
		e,
		healthHandler,
		mealPlanHandler,
		notificationHandler,
		metricsHandler,
		cfg.Metrics.Path,
		auth.JWTMiddleware(tokenManager),
		mealPlanRateLimiter(cfg.MealPlan),
	)

	return e
}

// NewHTTPServer создает net/http сервер с заданными таймаутами.
func NewHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.String("remote_ip", v.RemoteIP),
				slog.String("request_id", v.RequestID),
				slog.Duration("latency", v.Latency),
			}

			if userID, ok := auth.UserIDFromContext(c); ok {
				attrs = append(attrs, slog.String("user_id", userID.String()))
			}

			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}

			msg := "request completed"
			if v.Status >= http.StatusInternalServerError {
				logger.LogAttrs(c.Request().Context(), slog.LevelError, msg, attrs...)
				return nil
			}

			logger.LogAttrs(c.Request().Context(), slog.LevelInfo, msg, attrs...)
			return nil
		},
	})
}

// mealPlanRateLimiter ограничивает генерацию и замену по пользователю.
// It runs after JWTMiddleware, so the user id is already in the context.
func mealPlanRateLimiter(cfg config.MealPlanConfig) echo.MiddlewareFunc {
	limit := rate.Limit(float64(cfg.RateLimitPerMinute) / 60.0)
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      limit,
		Burst:     cfg.RateLimitBurst,
		ExpiresIn: time.Minute,
	})

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if userID, ok := auth.UserIDFromContext(c); ok {
				return userID.String(), nil
			}
			return c.RealIP(), nil
		},
	})
}
