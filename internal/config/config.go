package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// WaveSpeed
	WaveSpeedAPIKey        string
	WaveSpeedAPIBaseURL    string
	WaveSpeedWebhookSecret string
	WaveSpeedHTTPTimeout   time.Duration
	ImageModel             string
	VideoModel             string

	// Retries for transport failures
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Polling
	PollInterval time.Duration
	PollTimeout  time.Duration

	// Generation defaults, overridable per story
	ImageResolution         string
	ImageOutputFormat       string
	VideoDurationSeconds    int
	VideoAcceptedDurations  []int
	VideoResolution         string
	VideoMovementAmplitude  string
	VideoGenerateAudio      bool
	VideoBGM                bool
	SceneConcurrency        int
	CharacterAutoReuse      bool
	CharacterFailureFatal   bool
	AuditEnabled            bool
	AuditSources            []string
	AuditMinConfidence      float64
	AuditReviewLimit        int
	AuditCandidatesPerQuery int
	SerpAPIKey              string
	SerpAPIBaseURL          string
	WikipediaBaseURL        string
	CommonsBaseURL          string

	// Supabase
	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabasePayloadTable   string
	SupabaseStorageBucket  string
	SupabaseStorageFolder  string

	// Delivery
	DeliveryProvider  string
	DeliverySecondary string

	// MinIO secondary sink
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool

	// Database (registry, scene records, migrations)
	DatabaseURL string

	// Queue
	RedisAddr        string
	RedisPassword    string
	QueueConcurrency int
	QueueRunTimeout  time.Duration

	// Server
	Port              string
	Environment       string
	OperatorJWTSecret string
	StoryPath         string
	OutputDir         string
	OTelExporter      string
	OTelEndpoint      string
	OTelSampleRatio   float64
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first without overriding variables already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		WaveSpeedAPIKey:        getEnv("WAVESPEED_API_KEY", ""),
		WaveSpeedAPIBaseURL:    getEnv("WAVESPEED_API_BASE_URL", "https://api.wavespeed.ai/api/v3"),
		WaveSpeedWebhookSecret: getEnv("WAVESPEED_WEBHOOK_SECRET", ""),
		WaveSpeedHTTPTimeout:   getEnvDuration("WAVESPEED_HTTP_TIMEOUT", 90*time.Second),
		ImageModel:             getEnv("WAVESPEED_IMAGE_MODEL", "google/nano-banana-pro/edit"),
		VideoModel:             getEnv("WAVESPEED_VIDEO_MODEL", "wavespeed-ai/wan-2.2/image-to-video"),

		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   getEnvDuration("RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:    getEnvDuration("RETRY_MAX_DELAY", 8*time.Second),

		PollInterval: getEnvDuration("POLL_INTERVAL", 5*time.Second),
		PollTimeout:  getEnvDuration("POLL_TIMEOUT", 20*time.Minute),

		ImageResolution:         getEnv("IMAGE_RESOLUTION", "1k"),
		ImageOutputFormat:       getEnv("IMAGE_OUTPUT_FORMAT", "png"),
		VideoDurationSeconds:    getEnvInt("VIDEO_DURATION_SECONDS", 5),
		VideoAcceptedDurations:  getEnvIntList("VIDEO_ACCEPTED_DURATIONS", []int{5, 8}),
		VideoResolution:         getEnv("VIDEO_RESOLUTION", "720p"),
		VideoMovementAmplitude:  getEnv("VIDEO_MOVEMENT_AMPLITUDE", "auto"),
		VideoGenerateAudio:      getEnvBool("VIDEO_GENERATE_AUDIO", true),
		VideoBGM:                getEnvBool("VIDEO_BGM", true),
		SceneConcurrency:        getEnvInt("SCENE_CONCURRENCY", 1),
		CharacterAutoReuse:      getEnvBool("CHARACTER_AUTO_REUSE", true),
		CharacterFailureFatal:   getEnvBool("CHARACTER_FAILURE_FATAL", false),
		AuditEnabled:            getEnvBool("AUDIT_ENABLED", true),
		AuditSources:            getEnvList("AUDIT_SOURCES", []string{"web_search", "wikipedia", "commons"}),
		AuditMinConfidence:      getEnvFloat("AUDIT_MIN_CONFIDENCE", 0.6),
		AuditReviewLimit:        getEnvInt("AUDIT_REVIEW_LIMIT", 5),
		AuditCandidatesPerQuery: getEnvInt("AUDIT_CANDIDATES_PER_SOURCE", 5),
		SerpAPIKey:              getEnv("SERPAPI_KEY", ""),
		SerpAPIBaseURL:          getEnv("SERPAPI_BASE_URL", "https://serpapi.com"),
		WikipediaBaseURL:        getEnv("WIKIPEDIA_BASE_URL", "https://en.wikipedia.org"),
		CommonsBaseURL:          getEnv("COMMONS_BASE_URL", "https://commons.wikimedia.org"),

		SupabaseURL:            getEnv("SUPABASE_URL", ""),
		SupabaseServiceRoleKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		SupabasePayloadTable:   getEnv("SUPABASE_PAYLOAD_TABLE", "aprt_story_payloads"),
		SupabaseStorageBucket:  getEnv("SUPABASE_STORAGE_BUCKET", "story-payloads"),
		SupabaseStorageFolder:  getEnv("SUPABASE_STORAGE_FOLDER", "payloads"),

		DeliveryProvider:  getEnv("DELIVERY_PROVIDER", "auto"),
		DeliverySecondary: getEnv("DELIVERY_SECONDARY", "supabase_storage"),

		MinIOEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinIOBucket:    getEnv("MINIO_BUCKET", "story-payloads"),
		MinIOUseSSL:    getEnvBool("MINIO_USE_SSL", true),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		QueueConcurrency: getEnvInt("QUEUE_CONCURRENCY", 2),
		QueueRunTimeout:  getEnvDuration("QUEUE_RUN_TIMEOUT", 3*time.Hour),

		Port:              getEnv("PORT", "8080"),
		Environment:       getEnv("ENVIRONMENT", "development"),
		OperatorJWTSecret: getEnv("OPERATOR_JWT_SECRET", ""),
		StoryPath:         getEnv("STORY_PATH", "config/story.yaml"),
		OutputDir:         getEnv("OUTPUT_DIR", ".tmp/runs"),
		OTelExporter:      getEnv("OTEL_EXPORTER", "none"),
		OTelEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318"),
		OTelSampleRatio:   getEnvFloat("OTEL_SAMPLE_RATIO", 1.0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.PollTimeout < c.PollInterval {
		return fmt.Errorf("POLL_TIMEOUT must be at least POLL_INTERVAL")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if len(c.VideoAcceptedDurations) == 0 {
		return fmt.Errorf("VIDEO_ACCEPTED_DURATIONS must list at least one value")
	}
	if c.SceneConcurrency < 1 {
		return fmt.Errorf("SCENE_CONCURRENCY must be at least 1")
	}
	if c.AuditMinConfidence < 0 || c.AuditMinConfidence > 1 {
		return fmt.Errorf("AUDIT_MIN_CONFIDENCE must be within [0,1]")
	}
	switch c.DeliveryProvider {
	case "auto", "supabase", "storage":
	default:
		return fmt.Errorf("DELIVERY_PROVIDER must be auto, supabase or storage")
	}
	switch c.DeliverySecondary {
	case "supabase_storage", "minio":
	default:
		return fmt.Errorf("DELIVERY_SECONDARY must be supabase_storage or minio")
	}
	return nil
}

// RequireLive checks the settings a non dry-run pipeline cannot work without.
func (c *Config) RequireLive() error {
	if c.WaveSpeedAPIKey == "" {
		return fmt.Errorf("WAVESPEED_API_KEY is required for live generation")
	}
	return nil
}

func (c *Config) QueueEnabled() bool {
	return c.RedisAddr != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvFloat(key string, defaultValue float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return defaultValue
	}
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue
	}
	return d
}

func getEnvList(key string, defaultValue []string) []string {
	var out []string
	for _, value := range strings.Split(os.Getenv(key), ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			out = append(out, value)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvIntList(key string, defaultValue []int) []int {
	var out []int
	for _, value := range getEnvList(key, nil) {
		v, err := strconv.Atoi(value)
		if err != nil {
			return defaultValue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
