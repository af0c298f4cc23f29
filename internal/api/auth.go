package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointments/internal/appointment"
)

// Claims are issued by the identity provider. Subject is the patient id for
// patient tokens.
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

var errUnauthenticated = errors.New("unauthenticated")

const actorKey contextKey = "actor"

// IssueToken signs an HS256 token. Used by the simulate tool and in tests;
// production tokens come from the identity provider.
func IssueToken(secret []byte, role appointment.Role, subject string, ttl time.Duration) (string, error) {
	return signClaims(secret, Claims{Role: string(role)}, subject, ttl)
}

// IssuePatientToken signs a patient token carrying the patient's email.
func IssuePatientToken(secret []byte, patientID uuid.UUID, email string, ttl time.Duration) (string, error) {
	return signClaims(secret, Claims{Role: string(appointment.RolePatient), Email: email}, patientID.String(), ttl)
}

func signClaims(secret []byte, claims Claims, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func parseActor(secret []byte, raw string) (appointment.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return appointment.Actor{}, fmt.Errorf("parse token: %w", err)
	}

	switch appointment.Role(claims.Role) {
	case appointment.RoleAdmin:
		return appointment.AdminActor(), nil
	case appointment.RolePatient:
		id, err := uuid.Parse(claims.Subject)
		if err != nil {
			return appointment.Actor{}, fmt.Errorf("patient subject: %w", err)
		}
		actor := appointment.PatientActor(id)
		actor.Email = claims.Email
		return actor, nil
	default:
		return appointment.Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(token)
	}
	// Browsers cannot set headers on a websocket upgrade.
	return r.URL.Query().Get("access_token")
}

// Authenticate resolves the caller to an Actor. Requests without a token are
// guests; a bad token is rejected.
func Authenticate(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			actor, err := parseActor(secret, raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFrom returns the authenticated actor, or errUnauthenticated for guests.
func ActorFrom(ctx context.Context) (appointment.Actor, error) {
	if actor, ok := ctx.Value(actorKey).(appointment.Actor); ok {
		return actor, nil
	}
	return appointment.Actor{Role: appointment.RoleGuest}, errUnauthenticated
}

func RequireRole(roles ...appointment.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := ActorFrom(r.Context())
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "sign in required")
				return
			}
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden", "not allowed for this role")
		})
	}
}
