package dashboardapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const contextKeyUserID = "user_id"

// sessionMiddleware resolves the caller identity used for receipt paths.
// With no signing key configured every request runs as the demo user;
// otherwise a bearer token signed with the key must carry the user id in
// its subject claim.
func sessionMiddleware(signingKey string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if signingKey == "" {
			ctx.Set(contextKeyUserID, defaultSessionUser)
			ctx.Next()
			return
		}
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		rawToken := strings.TrimPrefix(header, "Bearer ")
		token, err := jwt.Parse(rawToken, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return []byte(signingKey), nil
		})
		if err != nil || !token.Valid {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
			return
		}
		subject, err := token.Claims.GetSubject()
		if err != nil || subject == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session token has no subject"})
			return
		}
		ctx.Set(contextKeyUserID, subject)
		ctx.Next()
	}
}

func getUserID(ctx *gin.Context) string {
	value, ok := ctx.Get(contextKeyUserID)
	if !ok {
		return defaultSessionUser
	}
	userID, _ := value.(string)
	if userID == "" {
		return defaultSessionUser
	}
	return userID
}
