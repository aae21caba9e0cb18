package middleware

import (
	"log"
	"net/http"
	"os"
	"strconv"

	"wandertrack/api/store"
	"wandertrack/api/utils"

	"github.com/gin-gonic/gin"
)

func bearerToken(c *gin.Context) string {
	tokenString, err := c.Cookie("jwt_token")
	if err == nil && tokenString != "" {
		return tokenString
	}
	tokenString = c.GetHeader("Authorization")
	if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
		tokenString = tokenString[7:]
	}
	return tokenString
}

// AuthRequired rejects requests without a valid identity. An X-API-KEY
// matching AUTH_DEFAULT bypasses JWT validation for trusted internal callers.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		defaultToken := c.GetHeader("X-API-KEY")
		if defaultToken != "" && defaultToken == os.Getenv("AUTH_DEFAULT") {
			c.Next()
			return
		}

		tokenString := bearerToken(c)
		if tokenString == "" {
			log.Println("AuthRequired: No JWT token found in cookie or header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No token provided"})
			return
		}

		claims, err := utils.ValidateJWT(tokenString)
		if err != nil {
			log.Printf("AuthRequired: Invalid JWT token: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired token"})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("user_email", claims.Email)
		c.Next()
	}
}

// AuthOptional attaches the user identity when one can be established and
// lets the request through either way. Tracking ingestion uses it: anonymous
// segments are first-class data, not an auth failure. The session store is
// the fallback for clients that carry a session cookie but no JWT.
func AuthOptional(sessions store.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString := bearerToken(c); tokenString != "" {
			if claims, err := utils.ValidateJWT(tokenString); err == nil {
				c.Set("user_id", claims.UserID)
				c.Set("user_email", claims.Email)
				c.Next()
				return
			}
		}

		if sessions != nil {
			if sessionID, err := c.Cookie("session_id"); err == nil && sessionID != "" {
				if userID, ok, err := sessions.Get(c.Request.Context(), sessionID); err == nil && ok {
					if intID, convErr := strconv.Atoi(userID); convErr == nil {
						c.Set("user_id", intID)
					}
				}
			}
		}

		c.Next()
	}
}
