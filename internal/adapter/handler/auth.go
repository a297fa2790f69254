package handler

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Claims carries the buyer identity. The user id is the token subject.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func ParseToken(secret []byte, raw string) (*Claims, error) {
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, errors.Join(ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return nil, ErrUnauthenticated
	}
	return claims, nil
}

// SignToken issues an HS256 token for a buyer.
func SignToken(secret []byte, userID, username string, ttl time.Duration) (string, error) {
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
