package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	UseMemoryQueue bool
	WorkerCount    int
	DatabaseURL    string

	// Redis session storage
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	SessionTTL    time.Duration

	// Scheduling directory (external clinic system)
	DirectoryBaseURL  string
	DirectoryAPIKey   string
	DirectoryTimeout  time.Duration
	DefaultSpecialty  string
	DirectBooking     bool
	RetryAttempts     int
	RetryBackoff      time.Duration
	MaxIdentityFails  int
	MaxServiceFails   int

	// Inbound webhook
	WebhookSecret string

	// Outbound messaging
	SMSProvider      string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// Staff notifications (secretary tickets)
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	StaffEmail        string
	ClinicName        string

	// AWS (SQS queue, DynamoDB job store, SES)
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	IntakeQueueURL      string
	IntakeJobsTable     string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		SessionTTL:    getEnvAsDuration("SESSION_TTL", 30*time.Minute),

		DirectoryBaseURL: getEnv("DIRECTORY_BASE_URL", ""),
		DirectoryAPIKey:  getEnv("DIRECTORY_API_KEY", ""),
		DirectoryTimeout: getEnvAsDuration("DIRECTORY_TIMEOUT", 10*time.Second),
		DefaultSpecialty: getEnv("DEFAULT_SPECIALTY", "clinica-geral"),
		DirectBooking:    getEnvAsBool("DIRECT_BOOKING", false),
		RetryAttempts:    getEnvAsInt("DIRECTORY_RETRY_ATTEMPTS", 2),
		RetryBackoff:     getEnvAsDuration("DIRECTORY_RETRY_BACKOFF", 500*time.Millisecond),
		MaxIdentityFails: getEnvAsInt("MAX_IDENTITY_FAILURES", 3),
		MaxServiceFails:  getEnvAsInt("MAX_SERVICE_FAILURES", 3),

		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),

		SMSProvider:      strings.ToLower(strings.TrimSpace(getEnv("SMS_PROVIDER", "twilio"))),
		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: getEnv("TWILIO_FROM_NUMBER", ""),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "sendgrid"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "SaudeFlow"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		StaffEmail:        getEnv("STAFF_NOTIFICATION_EMAIL", ""),
		ClinicName:        getEnv("CLINIC_NAME", "SaúdeFlow"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		IntakeQueueURL:      getEnv("INTAKE_QUEUE_URL", ""),
		IntakeJobsTable:     getEnv("INTAKE_JOBS_TABLE", "intake_jobs"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
