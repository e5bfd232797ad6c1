package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletledger/internal/auth"
)

const ownerIDLocal = "owner_id"

// JWTAuth validates bearer tokens and stores the owner id in the request
// locals.
func JWTAuth(verifier *auth.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])
		ownerID, err := verifier.Verify(tokenStr)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}

		c.Locals(ownerIDLocal, ownerID)
		return c.Next()
	}
}

// OwnerID returns the authenticated owner of the request.
func OwnerID(c *fiber.Ctx) (int64, bool) {
	id, ok := c.Locals(ownerIDLocal).(int64)
	return id, ok && id > 0
}
