package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"classattend/internal/attend"
	"classattend/internal/auth"
	"classattend/internal/config"
	"classattend/internal/face"
	"classattend/internal/gallery"
	"classattend/internal/handler"
	"classattend/internal/httpmiddleware"
	"classattend/internal/ledger"
	"classattend/internal/liveness"
	"classattend/internal/match"
	"classattend/internal/proof"
	"classattend/internal/queue"
	"classattend/internal/session"
	"classattend/internal/timetable"
	"classattend/internal/twins"
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
	g, err := gallery.Open(cfg.GalleryDir)
	if err != nil {
		return err
	}
	ldg, err := ledger.New(cfg.RecordsDir)
	if err != nil {
		return err
	}
	proofs, err := proof.NewStore(cfg.ProofsDir)
	if err != nil {
		return err
	}
	tt := timetable.NewStore(cfg.TimetableFile)
	tw := twins.NewRegistry(cfg.TwinsFile)
	sessions := session.NewRegistry()

	faceSvc := face.New(cfg.FaceServiceURL, cfg.FaceSkip)
	gate := liveness.NewGate(faceSvc, cfg.LivenessThreshold)
	matcher := match.New(faceSvc, g, tw, cfg.MatchThreshold)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var redisClient *redis.Client
	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		q = queue.NewRedisQueue(redisClient, "")
	}

	// Cloudinary mirror (nil when not configured)
	var remote *proof.Remote
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		remote = proof.NewRemote(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	if cfg.QueueBackend == "memory" {
		// No separate worker process for the in-memory backend; drain
		// proof jobs in-process instead.
		go func() {
			if err := proof.RunWorker(ctx, q, proofs, g, remote); err != nil && ctx.Err() == nil {
				log.Printf("proof worker stopped: %v", err)
			}
		}()
	}

	svc := attend.NewService(sessions, gate, matcher, g, ldg, q, cfg.MaxDistanceMeters)
	h := handler.New(cfg, sessions, tt, g, tw, ldg, svc)

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
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		faceHealthy := faceSvc.Health(c.Request.Context()) == nil
		redisHealthy := true
		if redisClient != nil {
			redisHealthy = redisClient.Ping(c.Request.Context()).Err() == nil
		}
		status := http.StatusOK
		if !faceHealthy || !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "face": faceHealthy, "redis": redisHealthy})
	})

	// Public surface: student check-in plus admin login
	r.POST("/api/attend/:sessionID", h.SubmitAttendance)
	r.POST("/admin/login", h.Login)

	admin := r.Group("/api", auth.AdminAuth(cfg.JWTSigningKey, cfg.JWTIssuer))
	admin.POST("/sessions", h.GenerateSession)
	admin.DELETE("/sessions/:id", h.RemoveSession)

	admin.GET("/students", h.ListStudents)
	admin.POST("/students", h.EnrollStudent)
	admin.POST("/students/:id/photos", h.AddStudentPhotos)
	admin.PUT("/students/:id/name", h.RenameStudent)
	admin.DELETE("/students/:id", h.DeleteStudent)

	admin.GET("/reports/today", h.TodayReport)
	admin.GET("/reports/overall", h.OverallReport)
	admin.GET("/reports/detailed", h.DetailedReport)

	admin.GET("/timetable", h.GetTimetable)
	admin.POST("/timetable/slots", h.SaveSlot)
	admin.DELETE("/timetable/slots/:id", h.DeleteSlot)
	admin.GET("/subjects", h.Subjects)
	admin.GET("/current_subject", h.CurrentSubject)

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
	cancel()

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
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
