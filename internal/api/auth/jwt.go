package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adamroke/ytmp3ify/pkg/logger"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var (
	ErrAuthTokenMissing = errors.New("request does not contain an auth token")

	log = logger.Get("Auth")
)

const (
	AuthTokenCookieName = "auth-token"
	AuthTokenLifespan   = time.Minute * 30
)

type (
	Config struct {
		// APIKey is the shared secret clients exchange for a short
		// lived access token.
		APIKey string `yaml:"api_key" env:"YTMP3IFY_API_KEY" env-required:"true"`

		// TokenSecret signs issued tokens. Should be >= 256 bits.
		TokenSecret string `yaml:"token_secret" env:"YTMP3IFY_TOKEN_SECRET" env-required:"true"`
	}

	// Provider issues and validates the JWT access tokens which guard
	// every endpoint other than token issuance itself.
	Provider struct {
		apiKey      []byte
		tokenSecret []byte
	}
)

func NewProvider(config Config) *Provider {
	return &Provider{
		apiKey:      []byte(config.APIKey),
		tokenSecret: []byte(config.TokenSecret),
	}
}

// VerifyKey reports whether the candidate matches the configured API
// key, in constant time.
func (provider *Provider) VerifyKey(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), provider.apiKey) == 1
}

// IssueToken generates a short-lived access token along with its
// expiry time.
func (provider *Provider) IssueToken() (string, time.Time, error) {
	exp := time.Now().Add(AuthTokenLifespan)
	claims := jwt.RegisteredClaims{
		Subject:   "ytmp3ify-client",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(exp),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(provider.tokenSecret)
	if err != nil {
		return "", time.Now(), fmt.Errorf("failed to generate auth token: %w", err)
	}

	return token, exp, nil
}

// TokenCookie wraps an issued token in a cookie suitable for browser
// clients.
func TokenCookie(token string, expiration time.Time) *http.Cookie {
	cookie := new(http.Cookie)
	cookie.Name = AuthTokenCookieName
	cookie.Value = token
	cookie.Expires = expiration
	cookie.Path = "/"
	cookie.HttpOnly = true

	return cookie
}

// Middleware rejects any request which does not carry a valid access
// token, either as a bearer Authorization header or in the auth
// cookie. Failures are reported uniformly as 401 without detail.
func (provider *Provider) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ec echo.Context) error {
			token, err := tokenFromRequest(ec)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized)).SetInternal(err)
			}

			if err := provider.validateJWT(token); err != nil {
				log.Debugf("Rejecting request to %s: %v\n", ec.Request().RequestURI, err)
				return echo.NewHTTPError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized)).SetInternal(err)
			}

			return next(ec)
		}
	}
}

// validateJWT ensures the provided token is signed with our secret and
// has not expired.
func (provider *Provider) validateJWT(token string) error {
	parsed, err := jwt.ParseWithClaims(
		token,
		&jwt.RegisteredClaims{},
		func(token *jwt.Token) (interface{}, error) { return provider.tokenSecret, nil },
	)
	if err != nil {
		return fmt.Errorf("failed to parse JWT: %w", err)
	}

	if parsed == nil || !parsed.Valid {
		return errors.New("failed to verify JWT: token is expired or invalid")
	}

	return nil
}

func tokenFromRequest(ec echo.Context) (string, error) {
	if header := ec.Request().Header.Get(echo.HeaderAuthorization); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return token, nil
		}
	}

	if cookie, err := ec.Cookie(AuthTokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	return "", ErrAuthTokenMissing
}
