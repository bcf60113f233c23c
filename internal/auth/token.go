package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnsupportedScheme reports an Authorization header that is not "Bearer <token>".
	ErrUnsupportedScheme = errors.New("auth: only Bearer authorization is accepted")
	// ErrInvalidSignature reports a token whose signature does not verify.
	ErrInvalidSignature = errors.New("auth: invalid token signature")
	// ErrMalformedToken reports a token that cannot be decoded or has expired.
	ErrMalformedToken = errors.New("auth: malformed token")
	// ErrMissingIPClaim reports a verified token without an ip_address claim.
	ErrMissingIPClaim = errors.New("auth: token has no ip_address claim")
	// ErrIPMismatch reports a token bound to a different caller.
	ErrIPMismatch = errors.New("auth: requestor does not match token")
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Claims is the payload of a form token.
type Claims struct {
	jwt.RegisteredClaims
	IPAddress string `json:"ip_address,omitempty"`
}

// Issuer mints form tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	clock  Clock
}

// NewIssuer constructs an Issuer. A zero ttl issues tokens without exp.
func NewIssuer(secret string, ttl time.Duration, clock Clock) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, clock: clock}
}

// Issue signs a token bound to ip.
func (i *Issuer) Issue(ip string) (string, error) {
	if len(i.secret) == 0 {
		return "", errors.New("jwt secret must not be empty")
	}

	now := i.clock.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
		IPAddress: ip,
	}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validator checks presented form tokens.
type Validator struct {
	secret []byte
	clock  Clock
}

// NewValidator constructs a Validator sharing the issuer's secret.
func NewValidator(secret string, clock Clock) *Validator {
	return &Validator{secret: []byte(secret), clock: clock}
}

// Validate inspects an Authorization header value for the caller at ip.
// An empty header is not an error: it yields ok == false. A valid header
// yields the token string exactly as presented.
func (v *Validator) Validate(authorization, ip string) (token string, ok bool, err error) {
	if strings.TrimSpace(authorization) == "" {
		return "", false, nil
	}

	scheme, token, found := strings.Cut(authorization, " ")
	if !found || scheme != "Bearer" {
		return "", false, ErrUnsupportedScheme
	}
	if token == "" {
		return "", false, ErrMalformedToken
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return "", false, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
		}
		return "", false, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}

	if claims.IPAddress == "" {
		return "", false, ErrMissingIPClaim
	}
	if claims.IPAddress != ip {
		return "", false, ErrIPMismatch
	}
	return token, true, nil
}
