package collab

import (
	"testing"

	"github.com/go-playground/assert/v2"
	gojwt "github.com/golang-jwt/jwt/v5"
)

func signedTestJwt(t *testing.T, claims gojwt.MapClaims) string {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	jwt, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return jwt
}

func TestParseByJwtUnverified(t *testing.T) {
	userId := NewId()
	clientId := NewId()
	jwt := signedTestJwt(t, gojwt.MapClaims{
		"user_id":   userId.String(),
		"client_id": clientId.String(),
	})

	byJwt, err := ParseByJwtUnverified(jwt)
	assert.Equal(t, err, nil)
	assert.Equal(t, byJwt.UserId, userId)
	assert.Equal(t, byJwt.ClientId, clientId)
}

func TestParseByJwtMissingClaims(t *testing.T) {
	jwt := signedTestJwt(t, gojwt.MapClaims{
		"sub": "somebody",
	})

	byJwt, err := ParseByJwtUnverified(jwt)
	assert.Equal(t, err, nil)
	assert.Equal(t, byJwt.UserId, Id{})
	assert.Equal(t, byJwt.ClientId, Id{})

	_, err = ParseByJwtUnverified("not a jwt")
	assert.NotEqual(t, err, nil)
}

func TestClientAuthUserId(t *testing.T) {
	userId := NewId()
	auth := &ClientAuth{
		ByJwt: signedTestJwt(t, gojwt.MapClaims{
			"user_id": userId.String(),
		}),
		InstanceId: NewId(),
	}
	parsedUserId, err := auth.UserId()
	assert.Equal(t, err, nil)
	assert.Equal(t, parsedUserId, userId)
}
