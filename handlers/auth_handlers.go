// api/handlers/auth_handlers.go
package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"wandertrack/api/models"
	"wandertrack/api/store"
	"wandertrack/api/utils"
)

const sessionTTL = 24 * time.Hour

type AuthHandlers struct {
	UserStore *store.UserStore
	Sessions  store.SessionStore
}

func NewAuthHandlers(userStore *store.UserStore, sessions store.SessionStore) *AuthHandlers {
	return &AuthHandlers{UserStore: userStore, Sessions: sessions}
}

func (h *AuthHandlers) Signup(c *gin.Context) {
	var req models.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	// The email must be free before we try to insert.
	_, err := h.UserStore.GetUserByEmail(c.Request.Context(), req.Email)
	if err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "User with this email already exists"})
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		log.Printf("ERROR: Database error during signup email check: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check user existence"})
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("ERROR: Failed to hash password for %s: %v", req.Email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process password"})
		return
	}

	user, err := h.UserStore.CreateUser(c.Request.Context(), req.Email, hashedPassword)
	if err != nil {
		log.Printf("ERROR: Failed to create user in DB for email %s: %v", req.Email, err)
		if errors.Is(err, store.ErrDuplicateEmail) {
			c.JSON(http.StatusConflict, gin.H{"error": "User with this email already exists"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register user"})
		}
		return
	}

	log.Printf("User registered successfully: ID=%d, Email=%s", user.ID, user.Email)
	c.JSON(http.StatusCreated, gin.H{"message": "User registered successfully", "user_email": user.Email})
}

// Login handles user authentication, JWT issuance and session registration.
func (h *AuthHandlers) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	user, err := h.UserStore.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		log.Printf("Login failed for email %s: %v", req.Email, err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	err = bcrypt.CompareHashAndPassword(user.HashedPassword, []byte(req.Password))
	if err != nil {
		log.Printf("Login failed for email %s: password mismatch", req.Email)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	tokenString, err := utils.GenerateJWT(user)
	if err != nil {
		log.Printf("ERROR: Failed to generate JWT for user %d: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate authentication token"})
		return
	}

	sessionID := uuid.New().String()
	if h.Sessions != nil {
		if err := h.Sessions.Put(c.Request.Context(), sessionID, strconv.Itoa(user.ID), sessionTTL); err != nil {
			log.Printf("ERROR: Failed to store session for user %d: %v", user.ID, err)
		}
	}

	c.SetCookie(
		"jwt_token",
		tokenString,
		int(sessionTTL/time.Second),
		"/",
		"",
		false,
		true,
	)
	c.SetCookie(
		"session_id",
		sessionID,
		int(sessionTTL/time.Second),
		"/",
		"",
		false,
		true,
	)

	log.Printf("User logged in: ID=%d, Email=%s. JWT issued.", user.ID, user.Email)
	c.JSON(http.StatusOK, gin.H{
		"message":    "Login successful",
		"user_email": user.Email,
	})
}

func (h *AuthHandlers) Logout(c *gin.Context) {
	if h.Sessions != nil {
		if sessionID, err := c.Cookie("session_id"); err == nil && sessionID != "" {
			if err := h.Sessions.Delete(c.Request.Context(), sessionID); err != nil {
				log.Printf("ERROR: Failed to delete session %s: %v", sessionID, err)
			}
		}
	}

	c.SetCookie("jwt_token", "", -1, "/", "", false, true)
	c.SetCookie("session_id", "", -1, "/", "", false, true)

	log.Println("User logged out (JWT cookie cleared, session deleted).")
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}
