package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	hash, salt, err := Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.Len(t, salt, 16)
	assert.Len(t, hash, 32)

	assert.True(t, Verify("correct horse battery staple", salt, hash))
	assert.False(t, Verify("wrong password", salt, hash))
	assert.False(t, Verify("", salt, hash))
}

func TestHashUsesFreshSalt(t *testing.T) {
	hash1, salt1, err := Hash("secret")
	require.NoError(t, err)
	hash2, salt2, err := Hash("secret")
	require.NoError(t, err)

	// Same password, different salt, different digest
	assert.NotEqual(t, salt1, salt2)
	assert.NotEqual(t, hash1, hash2)
}

func TestVerifyRejectsEmptyMaterial(t *testing.T) {
	hash, salt, err := Hash("secret")
	require.NoError(t, err)

	assert.False(t, Verify("secret", nil, hash))
	assert.False(t, Verify("secret", salt, nil))
	assert.False(t, Verify("secret", nil, nil))
}
