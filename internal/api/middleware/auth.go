package middleware

import (
	"context"
	"net/http"

	"videojobs/internal/common"
	"videojobs/internal/common/security"

	"github.com/go-chi/jwtauth/v5"
)

type contextKey string

const (
	OperatorCtxKey contextKey = "operator"
	RoleCtxKey     contextKey = "role"
)

func Authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, claims, err := jwtauth.FromContext(r.Context())
		if err != nil || token == nil {
			msg := "Authorization token required"
			if err != nil && err != jwtauth.ErrNoTokenFound {
				msg = "Invalid token: " + err.Error()
			}
			common.RespondWithError(w, http.StatusUnauthorized, msg)
			return
		}

		operator, err := security.GetOperatorFromClaims(claims)
		if err != nil {
			common.RespondWithError(w, http.StatusUnauthorized, "Invalid token claims: "+err.Error())
			return
		}
		role, err := security.GetRoleFromClaims(claims)
		if err != nil {
			common.RespondWithError(w, http.StatusUnauthorized, "Invalid token claims: "+err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), OperatorCtxKey, operator)
		ctx = context.WithValue(ctx, RoleCtxKey, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OperatorOnly guards write routes.
func OperatorOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, ok := r.Context().Value(RoleCtxKey).(string)
		if !ok || role != security.RoleOperator {
			common.RespondWithError(w, http.StatusForbidden, "Operator access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func GetOperatorFromContext(ctx context.Context) (string, bool) {
	operator, ok := ctx.Value(OperatorCtxKey).(string)
	return operator, ok
}
