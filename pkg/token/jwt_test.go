package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager_RoundTrip(t *testing.T) {
	m := NewJWTManager("secret", 1, 1)

	access, err := m.GenerateToken("admin", "ADMIN")
	require.NoError(t, err)
	claims, err := m.VerifyKind(access, KindAccess)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
	assert.Equal(t, "ADMIN", claims.Role)

	refresh, err := m.GenerateRefreshToken("admin", "ADMIN")
	require.NoError(t, err)
	_, err = m.VerifyKind(refresh, KindAccess)
	assert.Error(t, err)
	_, err = m.VerifyKind(refresh, KindRefresh)
	assert.NoError(t, err)
}

func TestJWTManager_RejectsForeignSecretAndExpired(t *testing.T) {
	tok, err := NewJWTManager("other", 1, 1).GenerateToken("admin", "ADMIN")
	require.NoError(t, err)
	_, err = NewJWTManager("secret", 1, 1).VerifyToken(tok)
	assert.Error(t, err)

	expired, err := NewJWTManager("secret", -1, 1).GenerateToken("admin", "ADMIN")
	require.NoError(t, err)
	_, err = NewJWTManager("secret", 1, 1).VerifyToken(expired)
	assert.Error(t, err)

	_, err = NewJWTManager("secret", 1, 1).VerifyToken("garbage")
	assert.Error(t, err)
}
