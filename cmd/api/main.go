package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/geo"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/metrics"
	"rollcall/internal/piicrypt"
	"rollcall/internal/queue"
	"rollcall/internal/session"
	"rollcall/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	cipher, err := piicrypt.New(cfg.EncryptionKey)
	if err != nil {
		return err
	}
	if cipher.Degraded() {
		log.Println("WARNING: ENCRYPTION_KEY not set; student PII will be stored without confidentiality")
		metrics.CipherDegraded.Set(1)
	}

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable, falling back to in-memory store: %v", err)
		db = nil
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	ctx := context.Background()

	var sessionStore session.Store
	var instructorStore auth.InstructorStore
	if db != nil {
		repo := session.NewRepository(db.Client)
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		insStore := auth.NewPostgresInstructorStore(db.Client)
		if err := insStore.EnsureSchema(ctx); err != nil {
			return err
		}
		sessionStore = repo
		instructorStore = insStore
	} else {
		sessionStore = session.NewMemoryStore()
		instructorStore = auth.NewMemoryInstructorStore()
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:checkins")
	}

	svc := session.NewService(sessionStore, cipher, cfg.ProximityRadius, nil)
	accounts := auth.NewAccounts(instructorStore)

	sweeper := session.NewSweeper(svc, cfg.SweepInterval, func(count int) {
		metrics.SessionsSweptTotal.Add(float64(count))
	})
	sweeper.Start(ctx)
	defer sweeper.Stop()

	r := gin.New()

	// Recovery middleware
	r.Use(gin.Recovery())

	// Custom logger
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	// CORS middleware
	r.Use(corsMiddleware())

	// Security headers
	r.Use(securityHeaders())

	// Rate limiting
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	storeMode := "postgres"
	if db == nil {
		storeMode = "memory"
	}

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		// The memory fallback has no database to fail; it serves degraded
		// but healthy. With Postgres, ping on every probe rather than
		// trusting the startup connection.
		dbHealthy := db == nil || db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"status":          "ok",
			"store":           storeMode,
			"redis":           redisHealthy,
			"db":              dbHealthy,
			"cipher_degraded": cipher.Degraded(),
		})
	})

	r.POST("/v1/auth/register", func(c *gin.Context) {
		var req struct {
			Username  string `json:"username" binding:"required"`
			Name      string `json:"name" binding:"required"`
			Password  string `json:"password" binding:"required"`
			SecretKey string `json:"secret_key"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if cfg.AdminSecretKey == "" || req.SecretKey != cfg.AdminSecretKey {
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid secret key"})
			return
		}
		ins, err := accounts.Register(c.Request.Context(), req.Username, req.Name, req.Password)
		if err != nil {
			status := http.StatusBadRequest
			if err == auth.ErrUsernameTaken {
				c.JSON(status, gin.H{"error": "username already exists"})
				return
			}
			c.JSON(status, gin.H{"error": "registration failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": ins.ID, "username": ins.Username})
	})

	r.POST("/v1/auth/login", func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ins, err := accounts.Authenticate(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credentials"})
			return
		}
		tokens, err := auth.Issue(ins.ID, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
			"name":          ins.Name,
		})
	})

	// Student check-in — public: the scanned code carries the target fields,
	// there is no student credential. Responses never echo PII or reveal who
	// else has checked in.
	r.POST("/v1/checkins", func(c *gin.Context) {
		var req struct {
			ClassName   string   `json:"class_name" binding:"required"`
			Date        string   `json:"date" binding:"required"`
			EndTime     string   `json:"end_time" binding:"required"`
			StudentName string   `json:"student_name" binding:"required"`
			IndexNumber string   `json:"index_number" binding:"required"`
			DeviceID    string   `json:"device_id"`
			Latitude    *float64 `json:"latitude" binding:"required"`
			Longitude   *float64 `json:"longitude" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ack, err := svc.SubmitCheckIn(c.Request.Context(), session.CheckInInput{
			ClassName:    req.ClassName,
			Date:         req.Date,
			EndTime:      req.EndTime,
			StudentName:  req.StudentName,
			StudentIndex: req.IndexNumber,
			DeviceID:     req.DeviceID,
			Location:     geo.Coordinate{Lat: *req.Latitude, Lng: *req.Longitude},
		})
		if err != nil {
			metrics.CheckinsTotal.WithLabelValues(string(session.CodeOf(err))).Inc()
			c.JSON(session.HTTPStatus(err), gin.H{"error": errMessage(err)})
			return
		}
		metrics.CheckinsTotal.WithLabelValues("accepted").Inc()

		// Audit event for the stats worker; carries no PII.
		body, _ := json.Marshal(gin.H{
			"session_id": ack.SessionID,
			"class_name": req.ClassName,
			"date":       req.Date,
			"timestamp":  ack.Timestamp,
		})
		if err := q.Publish(c.Request.Context(), queue.Message{Type: "checkin", Body: body}); err != nil {
			log.Printf("queue publish failed: %v", err)
		}

		c.JSON(http.StatusOK, gin.H{"message": "attendance marked successfully"})
	})

	authGroup := r.Group("/v1", auth.InstructorAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.POST("/sessions", func(c *gin.Context) {
		var req struct {
			ClassName  string   `json:"class_name" binding:"required"`
			CourseName string   `json:"course_name" binding:"required"`
			Date       string   `json:"date" binding:"required"`
			StartTime  string   `json:"start_time" binding:"required"`
			EndTime    string   `json:"end_time" binding:"required"`
			Latitude   *float64 `json:"latitude" binding:"required"`
			Longitude  *float64 `json:"longitude" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sess, err := svc.CreateSession(c.Request.Context(), session.CreateSessionInput{
			OwnerID:    auth.OwnerID(c),
			ClassName:  req.ClassName,
			CourseName: req.CourseName,
			Date:       req.Date,
			StartTime:  req.StartTime,
			EndTime:    req.EndTime,
			Anchor:     geo.Coordinate{Lat: *req.Latitude, Lng: *req.Longitude},
		})
		if err != nil {
			c.JSON(session.HTTPStatus(err), gin.H{"error": errMessage(err)})
			return
		}
		metrics.SessionsCreatedTotal.Inc()
		c.JSON(http.StatusCreated, gin.H{"id": sess.ID, "status": sess.Status})
	})

	authGroup.GET("/sessions/active", func(c *gin.Context) {
		views, err := svc.ListActive(c.Request.Context(), auth.OwnerID(c))
		if err != nil {
			c.JSON(session.HTTPStatus(err), gin.H{"error": errMessage(err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": views})
	})

	authGroup.GET("/sessions/history", func(c *gin.Context) {
		views, err := svc.ListHistory(c.Request.Context(), auth.OwnerID(c))
		if err != nil {
			c.JSON(session.HTTPStatus(err), gin.H{"error": errMessage(err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": views})
	})

	authGroup.PUT("/sessions/:id/cancel", func(c *gin.Context) {
		if err := svc.CancelSession(c.Request.Context(), auth.OwnerID(c), c.Param("id")); err != nil {
			c.JSON(session.HTTPStatus(err), gin.H{"error": errMessage(err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "cancelled"})
	})

	authGroup.DELETE("/sessions/:id", func(c *gin.Context) {
		if err := svc.DeleteSession(c.Request.Context(), auth.OwnerID(c), c.Param("id")); err != nil {
			c.JSON(session.HTTPStatus(err), gin.H{"error": errMessage(err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "deleted"})
	})

	authGroup.DELETE("/sessions", func(c *gin.Context) {
		n, err := svc.ClearHistory(c.Request.Context(), auth.OwnerID(c))
		if err != nil {
			c.JSON(session.HTTPStatus(err), gin.H{"error": errMessage(err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "history cleared", "deleted": n})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// errMessage surfaces the fixed, non-leaking message for engine outcomes.
func errMessage(err error) string {
	var api *session.APIError
	if errors.As(err, &api) {
		return api.Message
	}
	return "server error"
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
