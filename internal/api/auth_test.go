package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecollab-dev/syncengine/internal/testutil"
	"github.com/codecollab-dev/syncengine/internal/types"
)

func newAuthApp(t *testing.T) *SyncApp {
	t.Helper()
	return &SyncApp{
		log:        testutil.TestLogger(t),
		signingKey: testSigningKey,
	}
}

func TestIdentityFromToken(t *testing.T) {
	s := newAuthApp(t)

	identity := types.Identity{
		UserId:      "u1",
		DisplayName: "Alice",
		Email:       "alice@example.com",
		PhotoURL:    "https://example.com/alice.png",
	}

	token, err := CreateToken(testSigningKey, identity, time.Hour)
	require.NoError(t, err)

	got, err := s.identityFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, identity, got)
}

func TestIdentityFromToken_WrongKey(t *testing.T) {
	s := newAuthApp(t)

	token, err := CreateToken([]byte("other-key"), types.Identity{UserId: "u1"}, time.Hour)
	require.NoError(t, err)

	_, err = s.identityFromToken(token)
	assert.Error(t, err)
}

func TestIdentityFromToken_Expired(t *testing.T) {
	s := newAuthApp(t)

	token, err := CreateToken(testSigningKey, types.Identity{UserId: "u1"}, -time.Minute)
	require.NoError(t, err)

	_, err = s.identityFromToken(token)
	assert.Error(t, err)
}

func TestIdentityFromToken_MissingUserId(t *testing.T) {
	s := newAuthApp(t)

	token, err := CreateToken(testSigningKey, types.Identity{DisplayName: "no id"}, time.Hour)
	require.NoError(t, err)

	_, err = s.identityFromToken(token)
	assert.Error(t, err)
}

func TestIdentityFromToken_Garbage(t *testing.T) {
	s := newAuthApp(t)

	_, err := s.identityFromToken("not.a.token")
	assert.Error(t, err)
}
