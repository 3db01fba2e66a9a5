package security

import (
	"errors"
	"time"

	"videojobs/internal/platform/config"

	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleOperator = "operator" // may submit and retry
	RoleViewer   = "viewer"
)

var TokenAuth *jwtauth.JWTAuth

func InitJWT() {
	TokenAuth = NewTokenAuth(config.AppConfig.JWTKey)
}

func NewTokenAuth(key []byte) *jwtauth.JWTAuth {
	return jwtauth.New("HS256", key, nil)
}

// GenerateToken mints a token for an operator identity.
func GenerateToken(auth *jwtauth.JWTAuth, operator, role string, ttl time.Duration) (string, error) {
	if role != RoleOperator && role != RoleViewer {
		return "", errors.New("unknown role " + role)
	}
	claims := jwt.MapClaims{
		"sub":  operator,
		"role": role,
		"exp":  time.Now().Add(ttl).Unix(),
		"iat":  time.Now().Unix(),
	}
	_, tokenString, err := auth.Encode(claims)
	return tokenString, err
}

func GetOperatorFromClaims(claims map[string]interface{}) (string, error) {
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("sub claim is missing or not a string")
	}
	return sub, nil
}

func GetRoleFromClaims(claims map[string]interface{}) (string, error) {
	role, ok := claims["role"].(string)
	if !ok {
		return "", errors.New("role claim is missing or not a string")
	}
	return role, nil
}
