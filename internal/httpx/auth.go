package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
)

// Claims are issued elsewhere; this service only verifies them.
type Claims struct {
	UserID  string `json:"user_id,omitempty"`
	Role    string `json:"role,omitempty"`
	StoreID string `json:"store_id,omitempty"`
	jwt.RegisteredClaims
}

type Auth struct {
	Secret []byte
}

func NewAuth(secret string) *Auth { return &Auth{Secret: []byte(secret)} }

var errNoToken = errors.New("missing bearer token")

func (a *Auth) Parse(header string) (orders.Actor, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return orders.Actor{}, errNoToken
	}
	var c Claims
	token, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (interface{}, error) {
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return orders.Actor{}, err
	}
	if !token.Valid {
		return orders.Actor{}, jwt.ErrTokenInvalidClaims
	}

	actor := orders.Actor{UserID: c.UserID, Role: c.Role, StoreID: c.StoreID}
	if actor.UserID == "" {
		actor.UserID = c.Subject
	}
	if actor.UserID == "" {
		return orders.Actor{}, jwt.ErrTokenInvalidSubject
	}
	if actor.Role == "" {
		actor.Role = orders.RoleCustomer
	}
	return actor, nil
}

type actorKey struct{}

// Require rejects requests without a valid bearer token.
func (a *Auth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.Parse(r.Header.Get("Authorization"))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Code: "UNAUTHORIZED"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFrom(ctx context.Context) orders.Actor {
	a, _ := ctx.Value(actorKey{}).(orders.Actor)
	return a
}
