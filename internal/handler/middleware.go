package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/sms-dispatch/internal/observability"
	"github.com/kursadbilgin/sms-dispatch/internal/tenantctx"
)

// RequestContext copies the request id and serving host into the user context
// so services can log and resolve the tenant context without fiber. Hosts outside
// the allowlist resolve to the default context.
func RequestContext(hosts tenantctx.HostAllowlist) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		if id := requestCorrelationID(c); id != "" {
			ctx = observability.WithCorrelationID(ctx, id)
		}
		ctx = tenantctx.WithHostKey(ctx, hosts.Resolve(c.Hostname()))
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
