package request

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"canon/pkg/requestcontext"
)

// HeaderRequestID carries the correlation id in and out.
const HeaderRequestID = "X-Request-ID"

// RequestID reuses a caller-supplied correlation id or mints one, stores it in
// the context and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(requestcontext.WithRequestID(r.Context(), id)))
	})
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return requestcontext.RequestID(ctx)
}
