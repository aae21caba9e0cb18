// api/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"wandertrack/api/database"
	"wandertrack/api/handlers"
	"wandertrack/api/middleware"
	"wandertrack/api/store"
)

const anonDwellRetention = 30 * 24 * time.Hour

func main() {
	// Load .env file at the very start
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading .env: %v", err)
	}

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- Initialize PostgreSQL Database (users, places, anonymous dwell) ---
	dbClient, err := database.NewPostgresDB()
	if err != nil {
		log.Fatalf("Failed to initialize PostgreSQL database: %v", err)
	}
	defer dbClient.Close()

	// --- Initialize ClickHouse Database (visit segments) ---
	chClient, err := database.NewClickHouseDB()
	if err != nil {
		log.Fatalf("Failed to initialize ClickHouse database: %v", err)
	}
	defer chClient.Close()

	// --- Initialize Stores ---
	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
	visitStore, err := store.NewClickHouseVisitStore(initCtx, chClient)
	initCancel()
	if err != nil {
		log.Fatalf("Failed to initialize visit store: %v", err)
	}

	userStore := store.NewUserStore(dbClient.DB)
	placeStore := store.NewPlaceStore(dbClient.DB)
	anonDwellStore := store.NewAnonDwellStore(dbClient.DB)
	sessionStore := newSessionStore()
	defer sessionStore.Close()

	// --- Initialize Handlers ---
	authHandlers := handlers.NewAuthHandlers(userStore, sessionStore)
	visitHandlers := handlers.NewVisitHandlers(visitStore, placeStore, anonDwellStore)

	// Evict stale anonymous dwell rows periodically. Anonymous ids are
	// client-generated, so the table only shrinks through this sweep.
	sweepStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(6 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if _, err := anonDwellStore.Sweep(ctx, anonDwellRetention); err != nil {
					log.Printf("Anonymous dwell sweep failed: %v", err)
				}
				cancel()
			case <-sweepStop:
				return
			}
		}
	}()

	r := gin.Default()

	r.Use(middleware.CORSMiddleware())

	api := r.Group("/api")
	{
		// Authentication Endpoints (no authentication required)
		api.POST("/signup", authHandlers.Signup)
		api.POST("/login", authHandlers.Login)
		api.POST("/logout", authHandlers.Logout)

		// Path resolution is open: the tracking client calls it before it
		// has any identity.
		api.GET("/resolve/:id", visitHandlers.ResolvePath)

		// Ingestion accepts anonymous traffic; identity is attached when a
		// JWT or session cookie is present.
		api.POST("/visits", middleware.AuthOptional(sessionStore), visitHandlers.TrackVisit)

		// Protected Routes (require a valid JWT token)
		protected := api.Group("/")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/profile", profileHandler)

			statsGroup := protected.Group("/stats")
			{
				statsGroup.GET("/overall", visitHandlers.GetOverallStats)
				statsGroup.GET("/by-location", visitHandlers.GetStatsByLocation)
				statsGroup.GET("/by-district", visitHandlers.GetStatsByDistrict)
				statsGroup.GET("/top-pages", visitHandlers.GetTopPages)
				statsGroup.GET("/top-users", visitHandlers.GetTopUsers)
				statsGroup.GET("/live", visitHandlers.GetLiveUsers)
				statsGroup.GET("/geo", visitHandlers.GetGeoStats)
			}
		}
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.Printf("Go API server starting on http://localhost:%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Go API server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	close(sweepStop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting.")
}

// profileHandler echoes the identity attached by the auth middleware. Callers
// admitted through the API-key bypass carry no user claims, so both identity
// fields are optional.
func profileHandler(c *gin.Context) {
	resp := gin.H{
		"message":    "Welcome to your profile!",
		"ip_address": c.ClientIP(),
	}
	if id, ok := c.Get("user_id"); ok {
		resp["user_id"] = id
	}
	if email, ok := c.Get("user_email"); ok {
		resp["user_email"] = email
	}
	c.JSON(http.StatusOK, resp)
}

// newSessionStore picks the session backend: SESSION_STORE=redis for the
// persistent store, in-memory TTL map otherwise.
func newSessionStore() store.SessionStore {
	if os.Getenv("SESSION_STORE") != "redis" {
		return store.NewMemorySessionStore(time.Minute)
	}

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	db := 0
	if parsed, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
		db = parsed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	redisStore, err := store.NewRedisSessionStore(ctx, addr, os.Getenv("REDIS_PASSWORD"), db)
	if err != nil {
		log.Fatalf("Failed to initialize Redis session store: %v", err)
	}
	log.Println("Using Redis session store.")
	return redisStore
}
