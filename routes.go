package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appconfig "studyplan/config"
	appcrypto "studyplan/crypto"
	"studyplan/handlers"
	"studyplan/metrics"
	"studyplan/middleware"
	appserver "studyplan/server"
)

// setupRoutes configures all API routes and middleware for the application
func setupRoutes(app *fiber.App, db *pgxpool.Pool, rdb *redis.Client, crypto *appcrypto.CryptoService, config *appconfig.Config, startTime time.Time) {
	// Security middleware
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge: func() int {
			if appconfig.GetEnvOrDefault("APP_ENV", "development") == "production" {
				return 31536000
			}
			return 0
		}(),
		HSTSPreloadEnabled:    appconfig.GetEnvOrDefault("APP_ENV", "development") == "production",
		ContentSecurityPolicy: "default-src 'self'; object-src 'none'; frame-ancestors 'none'; base-uri 'self'",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
	}))

	// CSRF protection. Safe methods, public endpoints, and bearer-token requests
	// skip the guard; it only engages for cookie-credentialed unsafe calls.
	app.Use(csrf.New(csrf.Config{
		KeyLookup:      "header:X-CSRF-Token",
		CookieName:     "csrf_token",
		CookieSameSite: "Strict",
		CookieSecure:   true,
		CookieHTTPOnly: true,
		Expiration:     time.Hour,
		KeyGenerator:   uuid.NewString,
		ContextKey:     "csrf",
		Next: func(c *fiber.Ctx) bool {
			method := c.Method()
			path := c.Path()
			return method == fiber.MethodGet || method == fiber.MethodHead || method == fiber.MethodOptions ||
				c.Get(fiber.HeaderAuthorization) != "" ||
				strings.HasPrefix(path, "/api/v1/health") ||
				strings.HasPrefix(path, "/api/v1/auth/") ||
				path == "/api/v1/study-plan"
		},
	}))

	// CORS configuration
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(config.AllowedOrigins, ","),
		AllowCredentials: true,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-CSRF-Token",
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		ExposeHeaders:    "X-CSRF-Token",
	}))

	// Optional Prometheus metrics
	if appconfig.GetEnvAsBool("ENABLE_METRICS", false) {
		app.Use(metrics.PrometheusMiddleware())

		app.Get("/metrics", func(c *fiber.Ctx) error {
			handler := promhttp.Handler()
			req := &http.Request{
				Method:     c.Method(),
				URL:        &url.URL{Path: c.Path(), RawQuery: string(c.Request().URI().QueryString())},
				Header:     make(http.Header),
				Body:       io.NopCloser(bytes.NewReader(c.Body())),
				Host:       string(c.Request().Host()),
				RequestURI: c.OriginalURL(),
			}
			c.Request().Header.VisitAll(func(key, value []byte) {
				req.Header.Add(string(key), string(value))
			})

			w := appserver.NewFiberResponseWriter(c)
			handler.ServeHTTP(w, req)
			return nil
		})
	}

	// Initialize rate limiters
	rateLimits := middleware.NewRateLimitConfig(rdb)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(db, rdb, crypto, config)
	studyPlanHandler := handlers.NewStudyPlanHandler(rdb, config)
	plansHandler := handlers.NewPlansHandler(db)
	usersHandler := handlers.NewUsersHandler(db)

	// API group
	api := app.Group("/api/v1")

	// Comprehensive health check (liveness/readiness live in server.CreateFiberApp)
	api.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		health := fiber.Map{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   "1.0.0",
			"uptime":    time.Since(startTime).String(),
		}

		var userCount int
		dbHealthy := true
		if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&userCount); err != nil {
			dbHealthy = false
			health["database"] = "unhealthy"
			health["database_error"] = err.Error()
		} else {
			health["database"] = "healthy"
			health["user_count"] = userCount
		}

		redisHealthy := true
		if err := rdb.Ping(ctx).Err(); err != nil {
			redisHealthy = false
			health["redis"] = "unhealthy"
			health["redis_error"] = err.Error()
		} else {
			health["redis"] = "healthy"
		}

		if !dbHealthy || !redisHealthy {
			health["status"] = "unhealthy"
			return c.Status(fiber.StatusServiceUnavailable).JSON(health)
		}

		return c.JSON(health)
	})

	// Plan generation (public) - Tier 2: resource intensive
	api.Post("/study-plan", rateLimits.GenerateLimiter, studyPlanHandler.GeneratePlan)

	// Authentication routes (public) - Tier 1: strictest rate limiting
	api.Post("/auth/register", rateLimits.RegisterLimiter, authHandler.Register)
	api.Post("/auth/login", rateLimits.AuthLimiter, authHandler.Login)

	// Registration status endpoint so clients can respect the toggle
	api.Get("/auth/registration", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"enabled": appconfig.RegEnabled.Load() == 1})
	})

	// Protected routes (require JWT)
	protected := api.Group("", middleware.JWTMiddleware(config.JWTSecret, rdb))

	protected.Post("/auth/logout", rateLimits.LightweightLimiter, authHandler.Logout)
	protected.Get("/auth/me", rateLimits.LightweightLimiter, authHandler.Me)

	// User routes - Tier 4: lightweight reads
	protected.Get("/users", rateLimits.LightweightLimiter, usersHandler.ListUsers)
	protected.Get("/users/:id", rateLimits.LightweightLimiter, usersHandler.GetUser)

	// Saved plan routes - Tier 3: standard CRUD
	protected.Post("/plans", rateLimits.StandardCRUDLimiter, plansHandler.SavePlan)
	protected.Get("/plans", rateLimits.StandardCRUDLimiter, plansHandler.ListPlans)
	protected.Get("/plans/:id", rateLimits.StandardCRUDLimiter, plansHandler.GetPlan)
	protected.Delete("/plans/:id", rateLimits.StandardCRUDLimiter, plansHandler.DeletePlan)
}
