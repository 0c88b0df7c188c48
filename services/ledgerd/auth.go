package ledgerd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

// DefaultAdminScope grants access to administrative routes such as vault
// deposits.
const DefaultAdminScope = "ledger:admin"

// AuthConfig configures bearer token verification for mutating routes.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ScopeClaim string
	AdminScope string
	ClockSkew  time.Duration
}

type principalKey struct{}

// Principal is the identity proven by a bearer token. Its address is taken
// from the token subject and acts as the caller of every mutating request.
type Principal struct {
	Address common.Address
	Scopes  []string
}

// PrincipalFrom returns the authenticated principal attached to ctx.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Authenticator verifies HMAC signed JWTs.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	logger *slog.Logger
}

// NewAuthenticator constructs an authenticator. An empty secret disables
// every route that requires authentication.
func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.AdminScope == "" {
		cfg.AdminScope = DefaultAdminScope
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.HMACSecret)), logger: logger}
}

// Enabled reports whether a signing secret is configured.
func (a *Authenticator) Enabled() bool { return len(a.secret) > 0 }

// Middleware rejects requests without a valid bearer token carrying every
// required scope and attaches the principal to the request context.
func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.Enabled() {
				writeError(w, http.StatusServiceUnavailable, "AUTH_DISABLED", "authentication is not configured")
				return
			}
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token")
				return
			}
			principal, err := a.authenticate(tokenString)
			if err != nil {
				a.logger.Debug("ledgerd token rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
				writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token")
				return
			}
			if !hasScopes(principal.Scopes, requiredScopes) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "insufficient scope")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, principal)))
		})
	}
}

// RequireAdmin is Middleware restricted to the admin scope.
func (a *Authenticator) RequireAdmin() func(http.Handler) http.Handler {
	return a.Middleware(a.cfg.AdminScope)
}

func (a *Authenticator) authenticate(tokenString string) (Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, errors.New("claims not map")
	}
	subject, err := claims.GetSubject()
	if err != nil {
		return Principal{}, err
	}
	if !common.IsHexAddress(subject) {
		return Principal{}, fmt.Errorf("subject %q is not an address", subject)
	}
	return Principal{Address: common.HexToAddress(subject), Scopes: extractScopes(claims, a.cfg.ScopeClaim)}, nil
}

func extractScopes(claims jwt.MapClaims, scopeClaim string) []string {
	switch v := claims[scopeClaim].(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hasScopes(scopes []string, required []string) bool {
	set := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		set[scope] = struct{}{}
	}
	for _, req := range required {
		if _, ok := set[req]; !ok {
			return false
		}
	}
	return true
}

func extractBearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// callerFrom resolves the acting address of a mutating request. A non-empty
// body value must name the authenticated principal.
func callerFrom(r *http.Request, field, raw string) (common.Address, error) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		return common.Address{}, errUnauthenticated
	}
	if strings.TrimSpace(raw) == "" {
		return principal.Address, nil
	}
	claimed, err := parseAddress(field, raw, true)
	if err != nil {
		return common.Address{}, err
	}
	if claimed != principal.Address {
		return common.Address{}, fmt.Errorf("%w: %s does not match the token subject", errCallerMismatch, field)
	}
	return principal.Address, nil
}

var (
	errUnauthenticated = errors.New("request is not authenticated")
	errCallerMismatch  = errors.New("caller mismatch")
)
