package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueParseRoundTrip(t *testing.T) {
	token, err := Issue("staff1", RoleStaff, "rollcall-engine", "secret", time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, token.Value)

	claims, err := Parse(token.Value, "secret", "rollcall-engine")
	require.NoError(t, err)
	assert.Equal(t, "staff1", claims.Subject)
	assert.Equal(t, RoleStaff, claims.Role)
}

func TestParseRejectsWrongKey(t *testing.T) {
	token, err := Issue("staff1", RoleStaff, "rollcall-engine", "secret", time.Hour)
	require.NoError(t, err)

	_, err = Parse(token.Value, "other-secret", "rollcall-engine")
	assert.Error(t, err)
}

func TestParseRejectsIssuerMismatch(t *testing.T) {
	token, err := Issue("staff1", RoleStaff, "someone-else", "secret", time.Hour)
	require.NoError(t, err)

	_, err = Parse(token.Value, "secret", "rollcall-engine")
	assert.Error(t, err)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	token, err := Issue("staff1", RoleStaff, "rollcall-engine", "secret", -time.Minute)
	require.NoError(t, err)

	_, err = Parse(token.Value, "secret", "rollcall-engine")
	assert.Error(t, err)
}
