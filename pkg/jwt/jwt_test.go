package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "member_comms/pkg/errors"
)

func TestGenerateAndValidate(t *testing.T) {
	userID := uuid.New()
	token, err := GenerateAccessToken(userID, "a@example.org", RoleAdmin, "secret", "member-comms", time.Minute)
	require.NoError(t, err)

	claims, err := ValidateToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.Equal(t, "member-comms", claims.Issuer)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	token, err := GenerateAccessToken(uuid.New(), "", RoleMember, "secret", "x", time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(token, "other")
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestValidateToken_Expired(t *testing.T) {
	token, err := GenerateAccessToken(uuid.New(), "", RoleMember, "secret", "x", -time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(token, "secret")
	assert.ErrorIs(t, err, apperrors.ErrTokenExpired)
}
