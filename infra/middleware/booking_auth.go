package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"booking_worker/pkg/apperr"
)

// TriggerScope must appear in the token's scope claim.
const TriggerScope = "inbound:trigger"

// TriggerClaims are the claims accepted on inbound trigger routes.
type TriggerClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// HasScope reports whether the space separated scope claim contains s.
func (c *TriggerClaims) HasScope(s string) bool {
	for _, v := range strings.Fields(c.Scope) {
		if v == s {
			return true
		}
	}
	return false
}

// IssueTriggerToken signs an HS256 token for callers of the trigger routes.
func IssueTriggerToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := TriggerClaims{
		Scope: TriggerScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// TriggerAuth validates HS256 bearer tokens. An empty secret disables the check.
func TriggerAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" || c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		var tokenString string
		if parts := strings.SplitN(c.Get(fiber.HeaderAuthorization), " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
			tokenString = parts[1]
		}
		if tokenString == "" {
			return apperr.Unauthorized("missing authorization")
		}

		claims := &TriggerClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			return apperr.InvalidToken("invalid or expired token")
		}
		if !claims.HasScope(TriggerScope) {
			return apperr.Unauthorized("token lacks " + TriggerScope + " scope")
		}

		c.Locals("trigger_subject", claims.Subject)
		return c.Next()
	}
}
