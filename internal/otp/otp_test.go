package otp_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/phone-signin/internal/otp"
)

func TestGenerate_Shape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := otp.Generate()
		require.NoError(t, err)
		assert.Len(t, code, otp.CodeLength)
		assert.True(t, otp.WellFormed(code), code)
		seen[code] = true
	}
	// 200 draws from a million-value space collide rarely.
	assert.Greater(t, len(seen), 190)
}

func TestWellFormed(t *testing.T) {
	assert.True(t, otp.WellFormed("000123"))
	assert.False(t, otp.WellFormed("12345"))
	assert.False(t, otp.WellFormed("1234567"))
	assert.False(t, otp.WellFormed("12a456"))
	assert.False(t, otp.WellFormed(""))
}

func TestHashVerify_RoundTrip(t *testing.T) {
	digest, err := otp.Hash("042917")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(digest, "$argon2id$v=19$m=15360,t=2,p=1$"))
	assert.True(t, otp.Verify(digest, "042917"))
	assert.False(t, otp.Verify(digest, "042918"))
	assert.False(t, otp.Verify(digest, "42917"))
}

func TestHash_SaltedPerCall(t *testing.T) {
	a, err := otp.Hash("111111")
	require.NoError(t, err)
	b, err := otp.Hash("111111")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestHash_EmptyCode(t *testing.T) {
	_, err := otp.Hash("")
	assert.Error(t, err)
}

func TestVerify_MalformedDigestIsMismatch(t *testing.T) {
	for _, digest := range []string{
		"",
		"plain",
		"$bcrypt$v=19$m=15360,t=2,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=bad$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=15360,t=2,p=1$!!!$aGFzaA",
		"$argon2id$v=19$m=99999999,t=2,p=1$c2FsdA$aGFzaA",
	} {
		assert.NotPanics(t, func() {
			assert.False(t, otp.Verify(digest, "123456"), digest)
		})
	}
}
