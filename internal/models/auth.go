package models

import "github.com/golang-jwt/jwt/v5"

// Role identifies the acting party behind a request.
type Role string

const (
	RoleStudent  Role = "STUDENT"
	RoleEmployer Role = "EMPLOYER"
	RoleAdmin    Role = "ADMIN"
)

// JWTClaims carries actor identity for transition entry points.
type JWTClaims struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}
