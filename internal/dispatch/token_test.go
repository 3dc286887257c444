package dispatch

import (
	"testing"
	"time"

	"github.com/telecomverify/telecom/internal/testutil"
)

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()
	ti, err := NewTokenIssuer("secret", time.Minute)
	testutil.NoError(t, err)

	tok, expires, err := ti.Issue("+14155552671", "A", "sms", time.Now())
	testutil.NoError(t, err)
	testutil.True(t, expires.After(time.Now()))

	claims, err := ti.Validate(tok)
	testutil.NoError(t, err)
	testutil.Equal(t, "+14155552671", claims.Subject)
	testutil.Equal(t, "telecom", claims.Issuer)
	testutil.True(t, claims.ID != "")
}

func TestTokenRejectsOtherSecret(t *testing.T) {
	t.Parallel()
	a, err := NewTokenIssuer("one", time.Minute)
	testutil.NoError(t, err)
	b, err := NewTokenIssuer("two", time.Minute)
	testutil.NoError(t, err)

	tok, _, err := a.Issue("+14155552671", "A", "sms", time.Now())
	testutil.NoError(t, err)
	_, err = b.Validate(tok)
	testutil.ErrorContains(t, err, "invalid token")
}

func TestTokenRejectsExpired(t *testing.T) {
	t.Parallel()
	ti, err := NewTokenIssuer("secret", time.Minute)
	testutil.NoError(t, err)
	tok, _, err := ti.Issue("+14155552671", "A", "sms", time.Now().Add(-time.Hour))
	testutil.NoError(t, err)
	_, err = ti.Validate(tok)
	testutil.ErrorContains(t, err, "expired")
}

func TestTokenRandomSecretWhenEmpty(t *testing.T) {
	t.Parallel()
	a, err := NewTokenIssuer("", 0)
	testutil.NoError(t, err)
	b, err := NewTokenIssuer("", 0)
	testutil.NoError(t, err)
	testutil.Equal(t, defaultTokenDuration, a.duration)

	tok, _, err := a.Issue("+14155552671", "A", "sms", time.Now())
	testutil.NoError(t, err)
	_, err = b.Validate(tok)
	testutil.NotNil(t, err)
}

func TestGenerateCode(t *testing.T) {
	t.Parallel()
	for _, n := range []int{1, 4, 6, 10} {
		code, err := generateCode(n)
		testutil.NoError(t, err)
		testutil.Equal(t, n, len(code))
		for _, r := range code {
			testutil.True(t, r >= '0' && r <= '9', "non-digit in %q", code)
		}
	}
	code, err := generateCode(0)
	testutil.NoError(t, err)
	testutil.Equal(t, defaultCodeLength, len(code))
}
