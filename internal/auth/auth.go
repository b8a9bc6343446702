package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Token scopes. A temp token may only create a chat; a chat token is
// bound to the chat it was issued for.
const (
	ScopeTemp = "temp"
	ScopeChat = "chat"
)

// Header carries every Voynich token.
const Header = "x-auth-token"

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	Scope  string `json:"scope"`
	ChatID string `json:"chat_id,omitempty"`
	jwt.RegisteredClaims
}

// GenerateTempToken issues a short-lived token scoped to chat creation.
func GenerateTempToken(secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Scope: ScopeTemp,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// GenerateChatToken issues a token bound to chatID, expiring with the
// chat itself.
func GenerateChatToken(chatID, secret string, expiresAt time.Time) (string, error) {
	now := time.Now()
	claims := Claims{
		Scope:  ScopeChat,
		ChatID: chatID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   chatID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken verifies a signed token and returns its claims.
func ParseToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// RequireScope 校验 x-auth-token 并检查其 scope。
func RequireScope(secret, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := c.GetHeader(Header)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		claims, err := ParseToken(tokenStr, secret)
		if err != nil || claims.Scope != scope {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}

// GetClaims returns the verified claims set by RequireScope.
func GetClaims(c *gin.Context) *Claims {
	if v, ok := c.Get("claims"); ok {
		if claims, ok2 := v.(*Claims); ok2 {
			return claims
		}
	}
	return nil
}
