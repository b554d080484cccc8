package config

import (
	"fmt"
	"log"
	"os"
	"time"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env      string
	HTTPPort string

	AdminPassword string
	JWTIssuer     string
	JWTSigningKey string
	AdminTokenTTL time.Duration

	GalleryDir    string
	RecordsDir    string
	ProofsDir     string
	TimetableFile string
	TwinsFile     string

	SessionTTL        time.Duration
	MaxDistanceMeters float64
	MatchThreshold    float64
	LivenessThreshold float64

	FaceServiceURL string
	FaceSkip       bool

	QueueBackend    string
	RedisAddr       string
	RateLimitPerMin int

	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	CloudinaryFolder    string
}

// Load returns application config populated from environment variables with sensible defaults.
func Load() App {
	return App{
		Env:      getEnv("APP_ENV", "dev"),
		HTTPPort: getEnv("HTTP_PORT", "8081"),

		AdminPassword: getEnv("ADMIN_PASSWORD", "admin123"),
		JWTIssuer:     getEnv("JWT_ISSUER", "classattend"),
		JWTSigningKey: getEnv("JWT_SIGNING_KEY", "dev-signing-secret-change"),
		AdminTokenTTL: durationEnv("ADMIN_TOKEN_TTL", 8*time.Hour),

		GalleryDir:    getEnv("GALLERY_DIR", "data/gallery"),
		RecordsDir:    getEnv("RECORDS_DIR", "data/attendance_records"),
		ProofsDir:     getEnv("PROOFS_DIR", "data/attendance_proofs"),
		TimetableFile: getEnv("TIMETABLE_FILE", "data/timetable.json"),
		TwinsFile:     getEnv("TWINS_FILE", "data/twins.json"),

		SessionTTL:        durationEnv("SESSION_TTL", 30*time.Minute),
		MaxDistanceMeters: floatEnv("MAX_DISTANCE_METERS", 100),
		MatchThreshold:    floatEnv("MATCH_THRESHOLD", 0.4),
		LivenessThreshold: floatEnv("LIVENESS_THRESHOLD", 0.7),

		FaceServiceURL: getEnv("FACE_SERVICE_URL", "http://localhost:8000"),
		FaceSkip:       boolEnv("FACE_SKIP", true),

		QueueBackend:    getEnv("QUEUE_BACKEND", "memory"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RateLimitPerMin: intEnv("RATE_LIMIT_PER_MIN", 120),

		CloudinaryCloudName: getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: getEnv("CLOUDINARY_API_SECRET", ""),
		CloudinaryFolder:    getEnv("CLOUDINARY_FOLDER", "classattend/proofs"),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if val == "1" || val == "true" || val == "TRUE" {
			return true
		}
		if val == "0" || val == "false" || val == "FALSE" {
			return false
		}
		log.Printf("invalid bool for %s, using fallback %v", key, fallback)
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}

func floatEnv(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		var parsed float64
		if _, err := fmt.Sscanf(val, "%g", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid float for %s, using fallback %g", key, fallback)
	}
	return fallback
}
