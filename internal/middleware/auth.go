package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/config"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/services"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/utils"
	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

// UserIDKey is the gin context key holding the verified user id
const UserIDKey = "user_id"

// TokenVerifier turns a bearer token into a user id
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// NewTokenVerifier picks the verifier configured by AUTH_PROVIDER
func NewTokenVerifier(cfg *config.Config) (TokenVerifier, error) {
	switch strings.ToLower(cfg.Auth.Provider) {
	case "casdoor":
		if cfg.Auth.CasdoorEndpoint == "" || cfg.Auth.CasdoorCert == "" {
			return nil, errors.New("casdoor auth requires CASDOOR_ENDPOINT and CASDOOR_CERTIFICATE")
		}
		client := casdoorsdk.NewClient(
			cfg.Auth.CasdoorEndpoint,
			cfg.Auth.CasdoorClientID,
			cfg.Auth.CasdoorSecret,
			cfg.Auth.CasdoorCert,
			cfg.Auth.CasdoorOrg,
			cfg.Auth.CasdoorAppName,
		)
		return &CasdoorVerifier{client: client}, nil
	case "", "jwt":
		if cfg.JWTSecret == "" {
			return nil, errors.New("jwt auth requires JWT_SECRET")
		}
		if cfg.IsProduction() && cfg.UsesDefaultJWTSecret() {
			return nil, errors.New("jwt auth in production requires JWT_SECRET to be set")
		}
		return NewJWTVerifier(cfg.JWTSecret), nil
	default:
		return nil, fmt.Errorf("unknown auth provider %q", cfg.Auth.Provider)
	}
}

// ===== JWT =====

// JWTVerifier checks HMAC signed tokens and returns their subject
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", services.ErrInvalidToken, err)
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", services.ErrInvalidToken
	}
	return claims.Subject, nil
}

// ===== CASDOOR =====

// CasdoorVerifier validates tokens issued by a Casdoor instance
type CasdoorVerifier struct {
	client *casdoorsdk.Client
}

func (v *CasdoorVerifier) Verify(_ context.Context, token string) (string, error) {
	claims, err := v.client.ParseJwtToken(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", services.ErrInvalidToken, err)
	}
	if claims.User.Id != "" {
		return claims.User.Id, nil
	}
	if claims.Subject != "" {
		return claims.Subject, nil
	}
	return "", services.ErrInvalidToken
}

// ===== MIDDLEWARE =====

// OptionalAuth lets requests without an Authorization header through
// anonymously. A header that is present must carry a valid bearer token.
func OptionalAuth(verifier TokenVerifier, logger utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			c.Next()
			return
		}

		token, ok := bearerToken(header)
		if !ok {
			abortUnauthorized(c, "Authorization header must be a bearer token")
			return
		}

		userID, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			logger.Warn("Rejected bearer token",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP(),
				"error", err)
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// UserID returns the verified user id, or "" for anonymous requests
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"message": message,
		"code":    "UNAUTHORIZED",
	})
}
