package utils

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"shop-service/models"
)

// ParseToken validates a bearer token and returns its claims. Token issuance
// lives in the identity service; this side only verifies.
func ParseToken(tokenString, secret string) (*models.Claims, error) {
	claims := &models.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}
	if claims.UserID == 0 {
		return nil, fmt.Errorf("token missing user_id claim")
	}
	if claims.Role == "" {
		claims.Role = models.RoleUser
	}
	return claims, nil
}
