package api

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

// AuthConfig selects how bearer tokens are verified. Outside of test and
// local modes tokens are RS256 signed by the Auth0 tenant.
type AuthConfig struct {
	Domain       string        `env:"AUTH0_DOMAIN"`
	Audience     string        `env:"AUTH0_AUDIENCE"`
	TestMode     bool          `env:"AUTH0_TEST_MODE"`
	TestSecret   string        `env:"TEST_JWT_SECRET"`
	LocalMode    string        `env:"LOCAL_AUTH_MODE"`
	LocalSecret  string        `env:"LOCAL_AUTH_SHARED_SECRET"`
	JWKSCacheTTL time.Duration `env:"JWKS_CACHE_TTL" envDefault:"15m"`
}

// Issuer is the expected iss claim for the configured tenant.
func (c AuthConfig) Issuer() string {
	if c.Domain == "" {
		return ""
	}
	return "https://" + c.Domain + "/"
}

// JWKSURL is where the tenant publishes its signing keys.
func (c AuthConfig) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", c.Domain)
}

// Symmetric reports whether tokens are HS256 signed with a shared secret.
func (c AuthConfig) Symmetric() bool {
	return c.LocalMode != "" || c.TestMode
}

// Auth validates incoming JWT tokens.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates an Auth for cfg. jwks may be nil in the symmetric modes.
func NewAuth(jwks *keyfunc.JWKS, cfg AuthConfig) (*Auth, error) {
	a := &Auth{JWKS: jwks, Audience: cfg.Audience, Issuer: cfg.Issuer(), keyCacheTTL: cfg.JWKSCacheTTL}
	if a.keyCacheTTL < 0 {
		return nil, errors.New("invalid JWKS_CACHE_TTL")
	}

	switch mode := strings.ToLower(cfg.LocalMode); {
	case mode == "hs256":
		if cfg.LocalSecret == "" {
			return nil, errors.New("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
		}
		a.TestMode = true
		a.TestSecret = []byte(cfg.LocalSecret)
	case mode != "":
		return nil, errors.New("unsupported LOCAL_AUTH_MODE value")
	case cfg.TestMode:
		if cfg.TestSecret == "" {
			return nil, errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
		}
		a.TestMode = true
		a.TestSecret = []byte(cfg.TestSecret)
	case jwks == nil:
		return nil, errors.New("jwks not configured")
	}

	if a.TestMode {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	} else {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	}
	return a, nil
}

// UserIDFromAuthHeader extracts the user identifier from the Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errMissingAuthorization
	}
	token, err := bearerTokenFromString(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromBearer(token)
}

// UserIDFromBearer extracts the user identifier from a bearer token presented as raw bytes.
func (a *Auth) UserIDFromBearer(token []byte) (string, error) {
	if len(token) == 0 {
		return "", errBadAuthorization
	}

	tokenStr := readOnlyString(token)
	var parsedToken *jwt.Token
	var err error
	if a.TestMode {
		parsedToken, err = a.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.TestSecret, nil
		})
	} else {
		parsedToken, err = a.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			return a.keyForToken(t)
		})
	}
	if err != nil {
		return "", err
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return "", errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return "", errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now, false) {
		return "", errors.New("token used before issued")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, false) {
		return "", errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false) {
		return "", errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}

// SignLocalToken issues an HS256 token for userID that an Auth built from
// cfg accepts. Only the symmetric modes can sign.
func SignLocalToken(cfg AuthConfig, userID string, ttl time.Duration) (string, error) {
	var secret string
	switch {
	case strings.EqualFold(cfg.LocalMode, "hs256"):
		secret = cfg.LocalSecret
	case cfg.TestMode:
		secret = cfg.TestSecret
	default:
		return "", errors.New("token signing needs LOCAL_AUTH_MODE=hs256 or AUTH0_TEST_MODE")
	}
	if secret == "" {
		return "", errors.New("signing secret not configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if cfg.Audience != "" {
		claims["aud"] = cfg.Audience
	}
	if iss := cfg.Issuer(); iss != "" {
		claims["iss"] = iss
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
