package token

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	issuer := NewIssuer("secret", "fp", "account-api")

	raw, expiresAt, err := issuer.Issue(KindAccess, "user-1", "session-1", 15*time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 5*time.Second)

	claims, err := issuer.Verify(KindAccess, raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "session-1", claims.SessionID)
	assert.Equal(t, KindAccess, claims.Kind)
}

func TestVerifyRejectsKindConfusion(t *testing.T) {
	issuer := NewIssuer("secret", "fp", "account-api")

	access, _, err := issuer.Issue(KindAccess, "user-1", "s", time.Minute)
	require.NoError(t, err)
	refresh, _, err := issuer.Issue(KindRefresh, "user-1", "s", time.Hour)
	require.NoError(t, err)

	_, err = issuer.Verify(KindRefresh, access)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = issuer.Verify(KindAccess, refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyCollapsesFailures(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewIssuer("secret", "fp", "account-api").WithClock(func() time.Time { return now })

	raw, _, err := issuer.Issue(KindAccess, "user-1", "s", time.Minute)
	require.NoError(t, err)

	later := NewIssuer("secret", "fp", "account-api").WithClock(func() time.Time { return now.Add(2 * time.Minute) })
	_, expiredErr := later.Verify(KindAccess, raw)

	forged := NewIssuer("other", "fp", "account-api").WithClock(func() time.Time { return now })
	_, forgedErr := forged.Verify(KindAccess, raw)

	_, garbageErr := issuer.Verify(KindAccess, "not-a-token")
	_, emptyErr := issuer.Verify(KindAccess, "")

	parts := strings.Split(raw, ".")
	require.Len(t, parts, 3)
	_, tamperedErr := issuer.Verify(KindAccess, parts[0]+"."+parts[1]+".AAAA")

	for _, err := range []error{expiredErr, forgedErr, garbageErr, emptyErr, tamperedErr} {
		assert.Equal(t, ErrInvalidToken, err)
	}
}

func TestIssueNeverRepeatsMaterial(t *testing.T) {
	issuer := NewIssuer("secret", "fp", "account-api")
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		raw, _, err := issuer.Issue(KindRefresh, "user-1", "s", time.Hour)
		require.NoError(t, err)
		_, dup := seen[raw]
		require.False(t, dup)
		seen[raw] = struct{}{}
	}
}

func TestIssueValidatesInput(t *testing.T) {
	issuer := NewIssuer("secret", "", "")
	_, _, err := issuer.Issue("bogus", "u", "s", time.Minute)
	assert.Error(t, err)
	_, _, err = issuer.Issue(KindAccess, "", "s", time.Minute)
	assert.Error(t, err)
	_, _, err = issuer.Issue(KindAccess, "u", "s", 0)
	assert.Error(t, err)
	_, _, err = NewIssuer("", "", "").Issue(KindAccess, "u", "s", time.Minute)
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	issuer := NewIssuer("secret", "fp", "")
	other := NewIssuer("secret", "fp-2", "")

	fp := issuer.Fingerprint("token-value")
	assert.Len(t, fp, 64)
	assert.Equal(t, fp, issuer.Fingerprint("token-value"))
	assert.NotEqual(t, fp, other.Fingerprint("token-value"))
	assert.NotContains(t, fp, "token-value")

	assert.True(t, issuer.Equal("token-value", fp))
	assert.False(t, issuer.Equal("token-valuf", fp))
	assert.False(t, issuer.Equal("token-value", ""))
}
