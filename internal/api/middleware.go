package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-scheduling/pkg/logging"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	actorKey     contextKey = "actor"
	// actorSlotKey carries the *actorSlot auth fills for the access log.
	actorSlotKey contextKey = "actor_slot"
)

type actorSlot struct {
	actor *Actor
}

// RequestIDMiddleware adds a unique request ID to each request context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs method, path, status, duration and request ID.
func LoggingMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap ResponseWriter to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			slot := &actorSlot{}

			next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), actorSlotKey, slot)))

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", GetRequestID(r.Context()),
			}
			if slot.actor != nil {
				attrs = append(attrs, "actor_id", slot.actor.ID, "actor_role", slot.actor.Role)
			}

			switch {
			case wrapped.statusCode >= 500:
				logger.Error("http request", attrs...)
			case wrapped.statusCode >= 400:
				logger.Warn("http request", attrs...)
			default:
				logger.Info("http request", attrs...)
			}
		})
	}
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Actor is the authenticated user behind a request.
type Actor struct {
	ID   uuid.UUID
	Role string
}

// StaffClaims are the JWT claims staff and patient tokens carry. Subject is
// the user id.
type StaffClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// StaffAuth enforces an HMAC-signed bearer token and puts the actor in the
// request context. Patient tokens are refused.
func StaffAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := authenticate(w, r, secret)
			if !ok {
				return
			}
			if actor.Role == "" || actor.Role == "patient" {
				writeError(w, http.StatusForbidden, "forbidden", "staff role required")
				return
			}
			next.ServeHTTP(w, withActor(r, actor))
		})
	}
}

// PatientAuth accepts only tokens whose role is patient. The subject is the
// patient id.
func PatientAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := authenticate(w, r, secret)
			if !ok {
				return
			}
			if actor.Role != "patient" {
				writeError(w, http.StatusForbidden, "forbidden", "patient token required")
				return
			}
			next.ServeHTTP(w, withActor(r, actor))
		})
	}
}

// authenticate parses the bearer token and writes a 401 when it is missing
// or invalid.
func authenticate(w http.ResponseWriter, r *http.Request, secret string) (Actor, bool) {
	if secret == "" {
		writeError(w, http.StatusUnauthorized, "auth_disabled", "authenticated endpoints are not configured")
		return Actor{}, false
	}
	auth := r.Header.Get("Authorization")
	if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
		writeError(w, http.StatusUnauthorized, "missing_token", "missing authorization header")
		return Actor{}, false
	}

	claims := StaffClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
		return Actor{}, false
	}

	actorID, err := uuid.Parse(claims.Subject)
	if err != nil || actorID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "token subject must be a user id")
		return Actor{}, false
	}
	return Actor{ID: actorID, Role: strings.ToLower(strings.TrimSpace(claims.Role))}, true
}

func withActor(r *http.Request, actor Actor) *http.Request {
	if slot, ok := r.Context().Value(actorSlotKey).(*actorSlot); ok {
		slot.actor = &actor
	}
	return r.WithContext(context.WithValue(r.Context(), actorKey, actor))
}

// ActorFromContext returns the actor if StaffAuth or PatientAuth ran.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}
