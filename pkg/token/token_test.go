package token

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef-test-secret"

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNewCodec_Secret(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		wantErr bool
	}{
		{"empty", "", true},
		{"whitespace", "     \n ", true},
		{"too short", "short-secret", true},
		{"minimum length", strings.Repeat("x", MinSecretLength), false},
		{"long", testSecret, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCodec(tt.secret)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrServerMisconfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	now := time.Date(2024, 7, 1, 10, 0, 0, 123456789, time.UTC)
	codec, err := NewCodec(testSecret, WithClock(fixedClock(now)))
	require.NoError(t, err)

	for _, subject := range []string{"a", DeriveSubject("open sesame", ""), "subject with spaces", "юникод"} {
		issued, err := codec.Issue(subject, 30*24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, subject, issued.Subject)
		assert.Equal(t, 2, len(strings.Split(issued.Token, ".")))

		claims, err := codec.Verify(issued.Token)
		require.NoError(t, err)
		assert.Equal(t, subject, claims.Subject)
		assert.True(t, claims.ExpiresAt.Equal(issued.ExpiresAt))
		assert.True(t, now.Add(30*24*time.Hour).Truncate(time.Millisecond).Equal(claims.ExpiresAt))
	}
}

func TestIssue_PayloadFormat(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	codec, err := NewCodec(testSecret, WithClock(fixedClock(now)))
	require.NoError(t, err)

	issued, err := codec.Issue("abc", time.Hour)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(strings.Split(issued.Token, ".")[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"sub":"abc","exp":1700003600000}`, string(raw))
}

func TestIssue_EmptySubject(t *testing.T) {
	codec, err := NewCodec(testSecret)
	require.NoError(t, err)

	_, err = codec.Issue("", time.Hour)
	assert.Error(t, err)
}

func TestVerify_TamperedTag(t *testing.T) {
	codec, err := NewCodec(testSecret)
	require.NoError(t, err)

	for _, subject := range []string{"s1", "s2", DeriveSubject("pass", "device")} {
		issued, err := codec.Issue(subject, time.Hour)
		require.NoError(t, err)

		dot := strings.IndexByte(issued.Token, '.')
		for i := dot + 1; i < len(issued.Token); i++ {
			b := []byte(issued.Token)
			if b[i] == 'A' {
				b[i] = 'B'
			} else {
				b[i] = 'A'
			}

			_, err := codec.Verify(string(b))
			assert.ErrorIs(t, err, ErrBadToken, "flipping tag char %d must be rejected", i-dot-1)
		}
	}
}

func TestVerify_TamperedPayload(t *testing.T) {
	codec, err := NewCodec(testSecret)
	require.NoError(t, err)

	issued, err := codec.Issue("victim", time.Hour)
	require.NoError(t, err)

	forged := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"attacker","exp":99999999999999}`))
	tag := strings.Split(issued.Token, ".")[1]

	_, err = codec.Verify(forged + "." + tag)
	assert.ErrorIs(t, err, ErrBadToken)
}

func TestVerify_WrongSecret(t *testing.T) {
	a, err := NewCodec(testSecret)
	require.NoError(t, err)
	b, err := NewCodec("another-secret-entirely")
	require.NoError(t, err)

	issued, err := a.Issue("subject", time.Hour)
	require.NoError(t, err)

	_, err = b.Verify(issued.Token)
	assert.ErrorIs(t, err, ErrBadToken)
}

func TestVerify_Malformed(t *testing.T) {
	codec, err := NewCodec(testSecret)
	require.NoError(t, err)

	// A correctly signed payload that is not the expected JSON
	signed := func(payload string) string {
		encoded := base64.RawURLEncoding.EncodeToString([]byte(payload))
		return encoded + "." + codec.sign(encoded)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"one part", "abc"},
		{"three parts", "a.b.c"},
		{"garbage", "!!!.???"},
		{"not json", signed("not json")},
		{"missing sub", signed(`{"exp":99999999999999}`)},
		{"missing exp", signed(`{"sub":"x"}`)},
		{"wrong types", signed(`{"sub":1,"exp":"x"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Verify(tt.token)
			assert.ErrorIs(t, err, ErrBadToken)
		})
	}
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	issuedAt := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	now := issuedAt
	codec, err := NewCodec(testSecret, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	issued, err := codec.Issue("subject", time.Hour)
	require.NoError(t, err)

	// Exactly at expiry is still valid
	now = issuedAt.Add(time.Hour)
	_, err = codec.Verify(issued.Token)
	assert.NoError(t, err)

	now = issuedAt.Add(time.Hour + time.Millisecond)
	_, err = codec.Verify(issued.Token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerify_IssuedInThePast(t *testing.T) {
	codec, err := NewCodec(testSecret)
	require.NoError(t, err)

	issued, err := codec.Issue("subject", -time.Second)
	require.NoError(t, err)

	_, err = codec.Verify(issued.Token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestDeriveSubject(t *testing.T) {
	s := DeriveSubject("open sesame", "")
	assert.Len(t, s, 32)
	assert.Equal(t, s, DeriveSubject("open sesame", ""))
	// sha256("abc") prefix
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223", DeriveSubject("abc", ""))

	phone := DeriveSubject("open sesame", "phone")
	laptop := DeriveSubject("open sesame", "laptop")
	assert.NotEqual(t, s, phone)
	assert.NotEqual(t, phone, laptop)
	assert.Len(t, phone, 32)
}

func TestTTLFromDays(t *testing.T) {
	assert.Equal(t, 24*time.Hour, TTLFromDays(0))
	assert.Equal(t, 24*time.Hour, TTLFromDays(-3))
	assert.Equal(t, 30*24*time.Hour, TTLFromDays(30))
}
