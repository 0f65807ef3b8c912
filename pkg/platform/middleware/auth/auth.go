package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	request "canon/pkg/platform/middleware/request"
	"canon/pkg/requestcontext"
)

// RoleOperator is the only role allowed to change status or override risk.
const RoleOperator = "operator"

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// Claims is what the middleware needs from a validated token.
type Claims struct {
	Subject string
	Role    string
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireOperator admits requests carrying a valid operator bearer token and
// stores the operator subject in the context.
func RequireOperator(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := request.GetRequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}
			if claims.Role != RoleOperator || claims.Subject == "" {
				logger.WarnContext(ctx, "forbidden - token lacks operator role",
					"subject", claims.Subject,
					"role", claims.Role,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusForbidden, "forbidden", "Operator role required")
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithOperator(ctx, claims.Subject)))
		})
	}
}

// OperatorFrom returns the operator set by RequireOperator.
func OperatorFrom(ctx context.Context) string {
	return requestcontext.Operator(ctx)
}
