package auth

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func newPair(ttl time.Duration) (*Issuer, *Validator, *fixedClock) {
	clk := &fixedClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return NewIssuer(testSecret, ttl, clk), NewValidator(testSecret, clk), clk
}

func TestIssueValidateRoundTrip(t *testing.T) {
	t.Parallel()
	issuer, validator, _ := newPair(0)

	token, err := issuer.Issue("9.9.9.9")
	require.NoError(t, err)

	got, ok, err := validator.Validate("Bearer "+token, "9.9.9.9")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, token, got)
}

func TestIssuedClaims(t *testing.T) {
	t.Parallel()
	issuer, _, clk := newPair(0)

	token, err := issuer.Issue("9.9.9.9")
	require.NoError(t, err)

	claims := &Claims{}
	_, _, err = jwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)
	assert.Equal(t, "9.9.9.9", claims.IPAddress)
	require.NotNil(t, claims.IssuedAt)
	assert.Equal(t, clk.now.Unix(), claims.IssuedAt.Unix())
	assert.Nil(t, claims.ExpiresAt)
}

func TestValidateNoHeader(t *testing.T) {
	t.Parallel()
	_, validator, _ := newPair(0)

	token, ok, err := validator.Validate("", "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, token)
}

func TestValidateIPMismatch(t *testing.T) {
	t.Parallel()
	issuer, validator, _ := newPair(0)

	token, err := issuer.Issue("9.9.9.9")
	require.NoError(t, err)

	_, _, err = validator.Validate("Bearer "+token, "1.2.3.4")
	assert.ErrorIs(t, err, ErrIPMismatch)
}

func TestValidateTamperedSignature(t *testing.T) {
	t.Parallel()
	issuer, validator, _ := newPair(0)

	token, err := issuer.Issue("1.2.3.4")
	require.NoError(t, err)

	_, _, err = validator.Validate("Bearer "+tamper(token), "1.2.3.4")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestValidateForeignSecret(t *testing.T) {
	t.Parallel()
	_, validator, clk := newPair(0)

	token, err := NewIssuer("other-secret", 0, clk).Issue("1.2.3.4")
	require.NoError(t, err)

	_, _, err = validator.Validate("Bearer "+token, "1.2.3.4")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestValidateRejectsNoneAlgorithm(t *testing.T) {
	t.Parallel()
	_, validator, _ := newPair(0)

	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{IPAddress: "1.2.3.4"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, _, err = validator.Validate("Bearer "+token, "1.2.3.4")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestValidateStructuralErrors(t *testing.T) {
	t.Parallel()
	_, validator, _ := newPair(0)

	noIP, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   error
	}{
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", want: ErrUnsupportedScheme},
		{name: "lowercase bearer", header: "bearer abc", want: ErrUnsupportedScheme},
		{name: "scheme only", header: "Bearer", want: ErrUnsupportedScheme},
		{name: "empty token", header: "Bearer ", want: ErrMalformedToken},
		{name: "garbage", header: "Bearer not-a-jwt", want: ErrMalformedToken},
		{name: "missing ip claim", header: "Bearer " + noIP, want: ErrMissingIPClaim},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, ok, err := validator.Validate(tt.header, "1.2.3.4")
			assert.False(t, ok)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateExpiry(t *testing.T) {
	t.Parallel()
	clk := &fixedClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	issuer := NewIssuer(testSecret, time.Minute, clk)

	token, err := issuer.Issue("1.2.3.4")
	require.NoError(t, err)

	later := &fixedClock{now: clk.now.Add(30 * time.Second)}
	_, ok, err := NewValidator(testSecret, later).Validate("Bearer "+token, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)

	expired := &fixedClock{now: clk.now.Add(2 * time.Minute)}
	_, _, err = NewValidator(testSecret, expired).Validate("Bearer "+token, "1.2.3.4")
	assert.ErrorIs(t, err, ErrMalformedToken)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestIssueRequiresSecret(t *testing.T) {
	t.Parallel()

	_, err := NewIssuer("", 0, &fixedClock{}).Issue("1.2.3.4")
	assert.Error(t, err)
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		forwarded string
		remote    string
		want      string
	}{
		{name: "forwarded single", forwarded: "1.2.3.4", remote: "10.0.0.1:5555", want: "1.2.3.4"},
		{name: "forwarded chain", forwarded: " 1.2.3.4 , 10.0.0.2", remote: "10.0.0.1:5555", want: "1.2.3.4"},
		{name: "peer with port", remote: "10.0.0.1:5555", want: "10.0.0.1"},
		{name: "peer ipv6", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "peer without port", remote: "10.0.0.1", want: "10.0.0.1"},
		{name: "blank forwarded", forwarded: " , 1.1.1.1", remote: "10.0.0.1:1", want: "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ClientIPFrom(tt.forwarded, tt.remote))
		})
	}

	req := httptest.NewRequest("GET", "/contact_form_jwt", nil)
	req.Header.Set("X-Forwarded-For", "5.6.7.8, 10.0.0.1")
	assert.Equal(t, "5.6.7.8", ClientIP(req))
}

func TestProxiedIPFrom(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		forwarded string
		remote    string
		want      string
	}{
		{name: "proxy appended hop", forwarded: "6.6.6.6, 203.0.113.9", remote: "10.0.0.1:5555", want: "203.0.113.9"},
		{name: "single hop", forwarded: "203.0.113.9", remote: "10.0.0.1:5555", want: "203.0.113.9"},
		{name: "trailing blanks", forwarded: "203.0.113.9, , ", remote: "10.0.0.1:5555", want: "203.0.113.9"},
		{name: "no header", remote: "10.0.0.1:5555", want: "10.0.0.1"},
		{name: "blank header", forwarded: " , ", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ProxiedIPFrom(tt.forwarded, tt.remote))
		})
	}
}

// tamper flips the first character of the signature segment.
func tamper(token string) string {
	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	parts[2] = string(sig)
	return strings.Join(parts, ".")
}
