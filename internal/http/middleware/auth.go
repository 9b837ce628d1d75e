package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tbourn/go-dm-backend/internal/sysutil"
)

const (
	// userIDKey is the Gin context key holding the authenticated caller.
	userIDKey = "userID"
	// HeaderUserID carries the caller id when a trusted gateway already
	// authenticated the request.
	HeaderUserID = "X-User-ID"
	// maxUserIDLen matches the width of the user id columns.
	maxUserIDLen = 64
)

var (
	errNoCredentials = errors.New("missing credentials")
	errBadToken      = errors.New("invalid token")
)

// AuthOptions selects the identity sources accepted by Authenticate.
type AuthOptions struct {
	// Secret verifies HS256 bearer tokens. Empty disables tokens.
	Secret []byte
	// AllowUserHeader trusts X-User-ID when no bearer token is sent.
	AllowUserHeader bool
}

// Claims is the token payload. The caller id is the subject; user_id is
// accepted for tokens minted by older issuers.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// Authenticate resolves the caller and stores it under "userID". Requests
// without a usable identity are rejected with 401.
func Authenticate(opts AuthOptions) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *gin.Context) {
		uid, err := resolveCaller(c, parser, opts)
		if err != nil {
			LoggerFrom(c).Debug().Err(err).Msg("authentication failed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.GetString(requestIDKey),
				"code":       "unauthorized",
				"message":    "authentication required",
			})
			return
		}
		c.Set(userIDKey, uid)
		c.Next()
	}
}

func resolveCaller(c *gin.Context, parser *jwt.Parser, opts AuthOptions) (string, error) {
	if raw, ok := bearer(c.GetHeader("Authorization")); ok && len(opts.Secret) > 0 {
		var claims Claims
		_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
			return opts.Secret, nil
		})
		if err != nil {
			return "", errors.Join(errBadToken, err)
		}
		return validUserID(sysutil.FirstNonEmpty(claims.Subject, claims.UserID))
	}
	if opts.AllowUserHeader {
		return validUserID(c.GetHeader(HeaderUserID))
	}
	return "", errNoCredentials
}

func bearer(h string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

func validUserID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxUserIDLen {
		return "", errNoCredentials
	}
	return id, nil
}

// UserID returns the authenticated caller, or "" outside the API group.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
