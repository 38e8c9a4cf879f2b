package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"startup-analyst/internal/shared/telemetry"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string

	AnalysisServiceURL   string
	AnalysisServiceToken string
	OAuthClientID        string
	OAuthClientSecret    string
	OAuthTokenURL        string
	OAuthScopes          []string
	RequestTimeout       time.Duration

	SubmitMode      string
	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string
	MinioEndpoint   string
	MinioAccessKey  string
	MinioSecretKey  string
	MinioBucket     string
	MinioUseSSL     bool
	SQSQueueURL     string

	ResultsBackend string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKey       string
	DatabaseURL    string

	KafkaBrokers []string
	KafkaTopic   string

	PollInterval          time.Duration
	ReloadEveryMinutes    int
	NearDupScoreTolerance int
	NearDupWindow         time.Duration
	MemoryStepPerQuery    int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	cfg := Config{
		Port:            getEnv("PORT", "8080"),
		Env:             env,
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),

		AnalysisServiceURL:   strings.TrimRight(getEnv("ANALYSIS_SERVICE_URL", ""), "/"),
		AnalysisServiceToken: getEnv("ANALYSIS_SERVICE_TOKEN", ""),
		OAuthClientID:        getEnv("OAUTH_CLIENT_ID", ""),
		OAuthClientSecret:    getEnv("OAUTH_CLIENT_SECRET", ""),
		OAuthTokenURL:        getEnv("OAUTH_TOKEN_URL", ""),
		OAuthScopes:          splitAndTrim(getEnv("OAUTH_SCOPES", "")),
		RequestTimeout:       getDuration("ANALYSIS_SERVICE_TIMEOUT", 30*time.Second),

		SubmitMode:      normalizeChoice(getEnv("SUBMIT_MODE", "http"), "http", "queue"),
		ObjectStoreType: normalizeChoice(getEnv("OBJECT_STORE", "local"), "local", "s3", "minio"),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),
		MinioEndpoint:   getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey:  getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:  getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:     getEnv("MINIO_BUCKET", "startup-documents"),
		MinioUseSSL:     getBool("MINIO_USE_SSL", false),
		SQSQueueURL:     getEnv("SQS_QUEUE_URL", ""),

		ResultsBackend: normalizeChoice(getEnv("RESULTS_BACKEND", "http"), "http", "memory", "redis"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASS", ""),
		RedisDB:        getInt("REDIS_DB", 0),
		RedisKey:       getEnv("REDIS_KEY", ""),
		DatabaseURL:    os.Getenv("DATABASE_URL"),

		KafkaBrokers: splitAndTrim(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "startup-analysis-events"),

		PollInterval:          getDuration("POLL_INTERVAL", time.Second),
		ReloadEveryMinutes:    getInt("RELOAD_EVERY_MINUTES", 0),
		NearDupScoreTolerance: getInt("NEAR_DUP_SCORE_TOLERANCE", 5),
		NearDupWindow:         getDuration("NEAR_DUP_WINDOW", 60*time.Second),
		MemoryStepPerQuery:    getInt("MEMORY_STEP_PER_QUERY", 20),
	}

	if env == "production" && cfg.AnalysisServiceURL == "" && cfg.ResultsBackend == "http" {
		telemetry.Warn("config.analysis_service_url_missing", map[string]any{"env": env})
	}
	return cfg
}

// UsesMemoryService reports whether the in-process analysis service stands
// in for the remote one.
func (c Config) UsesMemoryService() bool {
	return c.AnalysisServiceURL == "" || c.ResultsBackend == "memory"
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		telemetry.Warn("config.invalid_value", map[string]any{"key": key, "value": raw})
		return def
	}
	return v
}

func getBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		telemetry.Warn("config.invalid_value", map[string]any{"key": key, "value": raw})
		return def
	}
	return v
}

// getDuration accepts Go durations ("500ms", "2m") or a bare number of
// seconds.
func getDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	telemetry.Warn("config.invalid_value", map[string]any{"key": key, "value": raw})
	return def
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

// normalizeChoice lower-cases raw and falls back to the first allowed value.
func normalizeChoice(raw string, allowed ...string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return allowed[0]
}
