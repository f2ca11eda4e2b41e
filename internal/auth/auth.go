package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gridpool/market-core/pkg/response"
)

var (
	ErrInvalidCredentials = errors.New("invalid API credentials")
	ErrTokenGeneration    = errors.New("failed to generate token")
)

// Demo broker credentials, used by the server in development mode and by
// the simulation client.
var TestBrokers = []Credential{
	{Broker: "alice", APIKey: "alice-key", APISecret: "alice-secret"},
	{Broker: "bob", APIKey: "bob-key", APISecret: "bob-secret"},
	{Broker: "carol", APIKey: "carol-key", APISecret: "carol-secret"},
}

// Credential binds a broker username to its API key pair.
type Credential struct {
	Broker    string `json:"broker"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// TokenRequest is the authentication request body.
type TokenRequest struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// TokenResponse represents the JWT token response.
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Broker     string    `json:"broker"`
	Expiration time.Time `json:"expiration"`
}

// Claims represents the JWT claims structure.
type Claims struct {
	jwt.RegisteredClaims
	Broker      string   `json:"broker"`
	Permissions []string `json:"permissions"`
}

// Service handles broker authentication.
type Service struct {
	jwtSecret []byte

	mu          sync.RWMutex
	credentials map[string]Credential // keyed by API key
}

// NewService creates a new authentication service with the given JWT
// secret.
func NewService(jwtSecret string) *Service {
	return &Service{
		jwtSecret:   []byte(jwtSecret),
		credentials: make(map[string]Credential),
	}
}

// RegisterBroker registers a broker's API credentials.
func (s *Service) RegisterBroker(cred Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[cred.APIKey] = cred
}

// GenerateToken generates a JWT token for valid broker credentials, with
// 24-hour expiration.
func (s *Service) GenerateToken(req TokenRequest) (*TokenResponse, error) {
	cred, ok := s.lookup(req)
	if !ok {
		return nil, ErrInvalidCredentials
	}

	expiration := time.Now().Add(24 * time.Hour)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
		Broker:      cred.Broker,
		Permissions: []string{"trade"},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      tokenString,
		Broker:     cred.Broker,
		Expiration: expiration,
	}, nil
}

// ValidateToken validates a JWT token and returns its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

func (s *Service) lookup(req TokenRequest) (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, exists := s.credentials[req.APIKey]
	if !exists || cred.APISecret != req.APISecret {
		return Credential{}, false
	}
	return cred, true
}

// GinHandlers contains HTTP handlers for authentication endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GenerateTokenHandler handles POST requests to exchange API credentials
// for a JWT.
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.GenerateToken(req)
		if errors.Is(err, ErrInvalidCredentials) {
			response.Unauthorized(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}
