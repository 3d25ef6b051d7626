package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/microbank/corebank/internal/domain"
)

const actorLocalsKey = "actor"

// ActorAuth verifies an HS256 bearer token and stores the resolved actor
// (role, employee_id and branch_id claims) on the request.
func ActorAuth(secret string) fiber.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])

		claims := jwt.MapClaims{}
		token, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}

		actor, err := actorFromClaims(claims)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, err.Error())
		}
		c.Locals(actorLocalsKey, actor)
		return c.Next()
	}
}

func actorFromClaims(claims jwt.MapClaims) (domain.Actor, error) {
	rawRole, _ := claims["role"].(string)
	role, err := domain.ParseRole(rawRole)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("invalid role claim")
	}
	employeeID, _ := claims["employee_id"].(string)
	branchID, _ := claims["branch_id"].(string)
	if employeeID == "" {
		return domain.Actor{}, fmt.Errorf("missing employee_id claim")
	}
	if role == domain.RoleBranchManager && branchID == "" {
		return domain.Actor{}, fmt.Errorf("missing branch_id claim")
	}
	return domain.Actor{Role: role, EmployeeID: employeeID, BranchID: branchID}, nil
}

// ActorFrom returns the actor stored by ActorAuth.
func ActorFrom(c *fiber.Ctx) (domain.Actor, error) {
	actor, ok := c.Locals(actorLocalsKey).(domain.Actor)
	if !ok {
		return domain.Actor{}, fiber.NewError(http.StatusUnauthorized, "unauthenticated")
	}
	return actor, nil
}

// WithActor stores actor on the request. Tests use it in place of ActorAuth.
func WithActor(actor domain.Actor) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(actorLocalsKey, actor)
		return c.Next()
	}
}
