package middleware

import (
	"log/slog"
	"strings"

	"dinepay/internal/services"

	"github.com/gofiber/fiber/v2"
)

const identityKey = "identity"

// AuthRequired is a Fiber middleware to check for a valid JWT token.
func AuthRequired(authService *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, ok := credential(c, "Bearer")
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Authorization header format must be 'Bearer <token>'",
			})
		}

		identity, err := authService.ValidateToken(tokenString)
		if err != nil {
			slog.Debug("JWT validation failed", "path", c.Path(), "error", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Invalid or expired token",
				"error":   err.Error(),
			})
		}

		c.Locals(identityKey, identity)
		return c.Next()
	}
}

// StaffRequired rejects callers without the staff role. It must run after
// AuthRequired.
func StaffRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !CurrentIdentity(c).IsStaff() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"message": "Staff role required",
			})
		}
		return c.Next()
	}
}

// APIKeyRequired checks the "Authorization: Apikey <key>" header sent by the
// bank gateway.
func APIKeyRequired(authService *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, ok := credential(c, "Apikey")
		if !ok || authService.VerifyAPIKey(key) != nil {
			slog.Warn("rejected webhook call", "path", c.Path(), "ip", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"message": "Invalid API key",
			})
		}
		return c.Next()
	}
}

// CurrentIdentity returns the caller stored by AuthRequired, or nil.
func CurrentIdentity(c *fiber.Ctx) *services.Identity {
	identity, _ := c.Locals(identityKey).(*services.Identity)
	return identity
}

func credential(c *fiber.Ctx, scheme string) (string, bool) {
	parts := strings.SplitN(c.Get(fiber.HeaderAuthorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], scheme) || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
