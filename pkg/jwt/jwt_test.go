package jwt

import (
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_GenerateAndValidate(t *testing.T) {
	svc := NewJWTService("secret", time.Minute)

	token, err := svc.GenerateToken("ops-1", "0xF39Fd6e51aad88F6F4ce6aB8827279cffFb92266", "Manufacturer")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops-1", claims.Subject)
	assert.Equal(t, "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266", claims.Address)
	assert.Equal(t, "Manufacturer", claims.Role)
	assert.Equal(t, issuer, claims.Issuer)
}

func TestJWTService_GenerateRequiresSubject(t *testing.T) {
	svc := NewJWTService("secret", time.Minute)

	_, err := svc.GenerateToken(" ", "", "admin")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_ValidateInvalidToken(t *testing.T) {
	svc := NewJWTService("secret", time.Minute)

	_, err := svc.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_ValidateWrongSecret(t *testing.T) {
	token, err := NewJWTService("secret", time.Minute).GenerateToken("ops-1", "", "admin")
	require.NoError(t, err)

	_, err = NewJWTService("other", time.Minute).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_ValidateExpiredToken(t *testing.T) {
	svc := NewJWTService("secret", -time.Second)

	token, err := svc.GenerateToken("ops-1", "", "admin")
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTService_ValidateWrongSigningMethod(t *testing.T) {
	svc := NewJWTService("secret", time.Minute)

	claims := gjwt.MapClaims{
		"sub":  "ops-1",
		"iss":  issuer,
		"role": "admin",
		"exp":  time.Now().Add(time.Minute).Unix(),
	}
	unsigned := gjwt.NewWithClaims(gjwt.SigningMethodNone, claims)
	tokenStr, err := unsigned.SignedString(gjwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.ValidateToken(tokenStr)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_ValidateWrongIssuer(t *testing.T) {
	svc := NewJWTService("secret", time.Minute)

	claims := gjwt.MapClaims{
		"sub": "ops-1",
		"iss": "someone-else",
		"exp": time.Now().Add(time.Minute).Unix(),
	}
	tokenStr, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = svc.ValidateToken(tokenStr)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_SignerFailure(t *testing.T) {
	orig := signJWTToken
	t.Cleanup(func() { signJWTToken = orig })
	signJWTToken = func(*gjwt.Token, []byte) (string, error) { return "", errors.New("sign failed") }

	_, err := NewJWTService("secret", time.Minute).GenerateToken("ops-1", "", "admin")
	assert.EqualError(t, err, "sign failed")
}
