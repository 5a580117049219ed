package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/sms-dispatch/internal/observability"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// BrokerChecker reports whether the message broker accepts connections.
type BrokerChecker interface {
	Check(ctx context.Context) error
}

// HealthDeps are the dependencies checked by /readyz. Redis and Broker are
// optional; a nil one is reported as "disabled".
type HealthDeps struct {
	SQL    *sql.DB
	Redis  *redis.Client
	Broker BrokerChecker
}

func RegisterHealthRoutes(app fiber.Router, deps HealthDeps, metrics *observability.Metrics) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(deps))
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(deps HealthDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
		defer cancel()

		checks := fiber.Map{}
		ready := true
		record := func(name string, err error) {
			if err != nil {
				checks[name] = "down"
				ready = false
				return
			}
			checks[name] = "ok"
		}

		if deps.SQL == nil {
			checks["postgres"] = "down"
			ready = false
		} else {
			record("postgres", deps.SQL.PingContext(ctx))
		}

		if deps.Redis == nil {
			checks["redis"] = "disabled"
		} else {
			record("redis", deps.Redis.Ping(ctx).Err())
		}

		if deps.Broker == nil {
			checks["rabbitmq"] = "disabled"
		} else {
			record("rabbitmq", deps.Broker.Check(ctx))
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if !ready {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	}
}
