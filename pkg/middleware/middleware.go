package middleware

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gridpool/market-core/pkg/response"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var (
	visitors = make(map[string]*visitor)
	mu       sync.RWMutex

	// Configure limits per endpoint type
	authLimit   = rate.Limit(10.0 / 60.0)   // 10 requests per minute
	orderLimit  = rate.Limit(300.0 / 60.0)  // 300 requests per minute
	marketLimit = rate.Limit(1000.0 / 60.0) // 1000 requests per minute
)

// Cleanup old visitors periodically
func init() {
	go cleanupVisitors()
}

func getLimiter(path, brokerID string) *rate.Limiter {
	mu.Lock()
	defer mu.Unlock()

	key := brokerID + ":" + path
	v, exists := visitors[key]

	if !exists {
		var limit rate.Limit
		switch {
		case strings.HasPrefix(path, "/api/v1/auth"):
			limit = authLimit
		case strings.HasPrefix(path, "/api/v1/orders"):
			limit = orderLimit
		case strings.HasPrefix(path, "/api/v1/orderbooks"),
			strings.HasPrefix(path, "/api/v1/trades"),
			strings.HasPrefix(path, "/api/v1/brokers"):
			limit = marketLimit
		default:
			limit = rate.Inf // No limit for other paths
		}

		v = &visitor{
			limiter:  rate.NewLimiter(limit, 5), // small burst for order streams
			lastSeen: time.Now(),
		}
		visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

func cleanupVisitors() {
	for {
		time.Sleep(time.Minute)

		mu.Lock()
		for id, v := range visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(visitors, id)
			}
		}
		mu.Unlock()
	}
}

// RateLimit throttles requests per broker (falling back to client IP before
// authentication).
func RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		brokerID := c.GetString("brokerID")
		if brokerID == "" {
			brokerID = c.ClientIP()
		}

		limiter := getLimiter(c.FullPath(), brokerID)
		if !limiter.Allow() {
			response.BadRequest(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// JWTAuth validates the bearer token and puts the broker identity into the
// request context under "brokerID".
func JWTAuth(jwtSecret string) gin.HandlerFunc {
	secret := []byte(jwtSecret)
	return func(c *gin.Context) {
		broker, claims, err := parseToken(c, secret)
		if err != nil {
			return
		}

		c.Set("claims", claims)
		c.Set("brokerID", broker)
		c.Next()
	}
}

// InternalAuth guards internal endpoints. Internal callers share the same
// JWT scheme; in a deployed setting this would additionally be restricted
// to the internal network.
func InternalAuth(jwtSecret string) gin.HandlerFunc {
	secret := []byte(jwtSecret)
	return func(c *gin.Context) {
		broker, _, err := parseToken(c, secret)
		if err != nil {
			return
		}

		c.Set("brokerID", broker)
		c.Next()
	}
}

func parseToken(c *gin.Context, secret []byte) (string, jwt.MapClaims, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		response.Unauthorized(c, "Authorization header required")
		c.Abort()
		return "", nil, fmt.Errorf("authorization header required")
	}

	bearerToken := strings.Split(authHeader, " ")
	if len(bearerToken) != 2 || strings.ToLower(bearerToken[0]) != "bearer" {
		response.Unauthorized(c, "Invalid authorization header format")
		c.Abort()
		return "", nil, fmt.Errorf("invalid authorization header format")
	}

	token, err := jwt.Parse(bearerToken[1], func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		response.Unauthorized(c, "Invalid token")
		c.Abort()
		return "", nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		response.Unauthorized(c, "Invalid token claims")
		c.Abort()
		return "", nil, fmt.Errorf("invalid token claims")
	}

	broker, ok := claims["broker"].(string)
	if !ok || broker == "" {
		response.Unauthorized(c, "Missing required claim: broker")
		c.Abort()
		return "", nil, fmt.Errorf("missing broker claim")
	}
	if _, exists := claims["exp"]; !exists {
		response.Unauthorized(c, "Missing required claim: exp")
		c.Abort()
		return "", nil, fmt.Errorf("missing exp claim")
	}

	return broker, claims, nil
}
