package jwt

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType represents the type of JWT token
type TokenType string

const (
	UserToken    TokenType = "user"
	ServiceToken TokenType = "service"
)

// RoleAdmin grants access to other users' bookings and office inventory management
const RoleAdmin = "admin"

const issuer = "rental-auth"

// Claims represents the JWT claims structure
type Claims struct {
	UserID    string    `json:"user_id,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	Roles     []string  `json:"roles,omitempty"`
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the token carries the admin role
func (c *Claims) IsAdmin() bool {
	return slices.Contains(c.Roles, RoleAdmin)
}

// IsService reports whether the token was issued to a backend service
func (c *Claims) IsService() bool {
	return c.TokenType == ServiceToken
}

// Service handles JWT operations
type Service struct {
	secret             string
	serviceTokenExpiry time.Duration
	userTokenExpiry    time.Duration
}

// NewService creates a new JWT service
func NewService(secret string, serviceExpiry, userExpiry time.Duration) *Service {
	return &Service{
		secret:             secret,
		serviceTokenExpiry: serviceExpiry,
		userTokenExpiry:    userExpiry,
	}
}

// GenerateServiceToken issues a token for a backend client and returns it with its expiry
func (s *Service) GenerateServiceToken(clientID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.serviceTokenExpiry)
	claims := Claims{
		ClientID:  clientID,
		TokenType: ServiceToken,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   clientID,
		},
	}

	tokenString, err := s.sign(claims)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign service token: %w", err)
	}
	return tokenString, expiresAt, nil
}

// GenerateUserToken issues a token for an end user
func (s *Service) GenerateUserToken(userID string, roles []string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:    userID,
		Roles:     roles,
		TokenType: UserToken,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.userTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   userID,
		},
	}

	tokenString, err := s.sign(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign user token: %w", err)
	}
	return tokenString, nil
}

func (s *Service) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secret))
}

// ValidateToken validates and parses a user or service token
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.secret), nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	switch claims.TokenType {
	case UserToken:
		if claims.UserID == "" {
			return nil, fmt.Errorf("user token without user id")
		}
	case ServiceToken:
		if claims.ClientID == "" {
			return nil, fmt.Errorf("service token without client id")
		}
	default:
		return nil, fmt.Errorf("invalid token type: %s", claims.TokenType)
	}

	return claims, nil
}
