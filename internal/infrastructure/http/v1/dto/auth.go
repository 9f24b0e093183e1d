package dto

import "time"

// LoginRequest carries operator credentials.
type LoginRequest struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterRequest creates an operator account.
type RegisterRequest struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
}

// LoginResponse returns the issued token.
type LoginResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	OperatorID  string    `json:"operatorId"`
	Login       string    `json:"login"`
}
