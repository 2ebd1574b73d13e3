package models

import "github.com/golang-jwt/jwt/v5"

type LoginRequest struct {
	UsernameOrPhone string `json:"usernameOrPhone"`
	Password        string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

type ForgotPasswordRequest struct {
	Phone string `json:"phone"`
}

type ResetPasswordRequest struct {
	Phone       string `json:"phone"`
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// Claims defines the JWT claims structure
type Claims struct {
	UserID  int64 `json:"userId"`
	IsAdmin bool  `json:"isAdmin"`
	jwt.RegisteredClaims
}
