package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OperatorSubject is the JWT subject of the single management operator.
const OperatorSubject = "operator"

// LoginRequest carries the management password.
type LoginRequest struct {
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns the issued access token.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	IssuedAt    time.Time `json:"issued_at"`
}

// JWTClaims represents the JWT payload for operator tokens.
type JWTClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}
