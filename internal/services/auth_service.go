package services

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgrijalva/jwt-go"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidAPIKey is returned when a webhook presents a wrong API key.
var ErrInvalidAPIKey = errors.New("invalid API key")

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Name   string
	Role   string
}

// RoleStaff may change the operational status of any order.
const RoleStaff = "staff"

// IsStaff reports whether the caller is restaurant staff.
func (i *Identity) IsStaff() bool {
	return i != nil && i.Role == RoleStaff
}

// AuthService verifies customer session tokens issued by the account backend
// and the API key of the bank webhook.
type AuthService struct {
	jwtSecret  []byte
	apiKeyHash []byte
	tokenDurat time.Duration
}

// NewAuthService creates a new AuthService. apiKeyHash is the bcrypt hash of
// the webhook API key; an empty hash rejects every key.
func NewAuthService(jwtSecret, apiKeyHash string) *AuthService {
	return &AuthService{
		jwtSecret:  []byte(jwtSecret),
		apiKeyHash: []byte(apiKeyHash),
		tokenDurat: 24 * time.Hour,
	}
}

// IssueToken signs a session token for userID. role is empty for customers.
func (s *AuthService) IssueToken(userID, name, role string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"name":    name,
		"role":    role,
		"exp":     now.Add(s.tokenDurat).Unix(),
		"iat":     now.Unix(),
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken parses and validates a token. The user id is read from the
// user_id claim, falling back to sub.
func (s *AuthService) ValidateToken(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		slog.Debug("token validation error", "error", err)
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	userID, _ := claims["user_id"].(string)
	if userID == "" {
		userID, _ = claims["sub"].(string)
	}
	if userID == "" {
		return nil, errors.New("invalid token: no user id")
	}
	name, _ := claims["name"].(string)
	role, _ := claims["role"].(string)
	return &Identity{UserID: userID, Name: name, Role: role}, nil
}

// HashAPIKey returns the bcrypt hash to configure for key.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hash), nil
}

// VerifyAPIKey compares key against the configured hash.
func (s *AuthService) VerifyAPIKey(key string) error {
	if len(s.apiKeyHash) == 0 || key == "" {
		return ErrInvalidAPIKey
	}
	if err := bcrypt.CompareHashAndPassword(s.apiKeyHash, []byte(key)); err != nil {
		return ErrInvalidAPIKey
	}
	return nil
}
