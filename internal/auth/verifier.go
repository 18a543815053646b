package auth

import (
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks HS256 access tokens minted by the auth service and extracts
// the user identity. It never calls out; a token is valid or it is not.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

type Option func(*verifierOptions)

type verifierOptions struct {
	leeway  time.Duration
	timeNow func() time.Time
}

// WithLeeway tolerates small clock skew on exp/nbf/iat.
func WithLeeway(d time.Duration) Option {
	return func(o *verifierOptions) { o.leeway = d }
}

// WithTimeFunc overrides the clock used for expiry checks.
func WithTimeFunc(now func() time.Time) Option {
	return func(o *verifierOptions) { o.timeNow = now }
}

func NewVerifier(secret string, opts ...Option) *Verifier {
	o := verifierOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(o.leeway),
	}
	if o.timeNow != nil {
		parserOpts = append(parserOpts, jwt.WithTimeFunc(o.timeNow))
	}

	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(parserOpts...),
	}
}

// Verify returns the user ID carried by token. A "Bearer " prefix is accepted.
// Malformed, expired, wrongly signed or identity-less tokens all yield ok == false.
func (v *Verifier) Verify(token string) (userID string, ok bool) {
	if len(v.secret) == 0 {
		return "", false
	}

	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return "", false
	}

	claims := jwt.MapClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", false
	}

	// The auth service signs {id, userId, email}; userId wins when both are present.
	for _, key := range []string{"userId", "id"} {
		if id := claimString(claims[key]); id != "" {
			return id, true
		}
	}
	return "", false
}

func claimString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		if val != float64(int64(val)) || val <= 0 {
			return ""
		}
		return strconv.FormatInt(int64(val), 10)
	default:
		return ""
	}
}
