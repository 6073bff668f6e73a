// internal/utils/jwt.go
package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// JWTClaims are issued by the platform's auth provider. Company users carry a company
// id, organization users an organization id.
type JWTClaims struct {
	UserID         string `json:"user_id"`
	Role           string `json:"role"`
	OrganizationID string `json:"organization_id,omitempty"`
	CompanyID      string `json:"company_id,omitempty"`
	Email          string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

var (
	jwtSecret = []byte("your-secret-key-change-in-production")
	jwtIssuer string
)

// SetJWTSecret configures the shared secret and, when non-empty, the required issuer.
func SetJWTSecret(secret, issuer string) {
	jwtSecret = []byte(secret)
	jwtIssuer = issuer
}

// GenerateJWT signs operator and test tokens; production tokens come from the auth provider.
func GenerateJWT(claims JWTClaims, ttl time.Duration) (string, error) {
	now := time.Now()
	if claims.Subject == "" {
		claims.Subject = claims.UserID
	}
	if claims.Issuer == "" {
		claims.Issuer = jwtIssuer
	}
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.NotBefore = jwt.NewNumericDate(now)
	claims.ID = uuid.NewString()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

func ValidateJWT(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if jwtIssuer != "" && !claims.VerifyIssuer(jwtIssuer, true) {
		return nil, errors.New("unexpected token issuer")
	}
	if _, err := uuid.Parse(claims.UserID); err != nil {
		return nil, errors.New("token has no valid user id")
	}
	return claims, nil
}

// OrganizationUUID returns the organization claim, if any.
func (c *JWTClaims) OrganizationUUID() (uuid.UUID, bool) {
	id, err := uuid.Parse(c.OrganizationID)
	return id, err == nil
}

// CompanyUUID returns the company claim, if any.
func (c *JWTClaims) CompanyUUID() (uuid.UUID, bool) {
	id, err := uuid.Parse(c.CompanyID)
	return id, err == nil
}
