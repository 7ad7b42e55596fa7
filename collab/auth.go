package collab

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

// ByJwt carries the identity claims the engine reads from the session
// token. The token is verified by the platform, not here; the engine
// only needs the ids.
type ByJwt struct {
	UserId   Id
	ClientId Id
}

func ParseByJwtUnverified(jwt string) (*ByJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	byJwt := &ByJwt{}
	if userIdStr, ok := claims["user_id"].(string); ok {
		if userId, err := ParseId(userIdStr); err == nil {
			byJwt.UserId = userId
		}
	}
	if clientIdStr, ok := claims["client_id"].(string); ok {
		if clientId, err := ParseId(clientIdStr); err == nil {
			byJwt.ClientId = clientId
		}
	}
	return byJwt, nil
}

// ClientAuth is handed to the page channel. Token rotation swaps the
// whole value via SetAuth, which forces channel re-authentication.
type ClientAuth struct {
	ByJwt      string
	InstanceId Id
	AppVersion string
}

func (self *ClientAuth) UserId() (Id, error) {
	byJwt, err := ParseByJwtUnverified(self.ByJwt)
	if err != nil {
		return Id{}, err
	}
	return byJwt.UserId, nil
}
