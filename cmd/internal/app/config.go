package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // "json" or "pretty"

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	RedisURL     string
	WaitingQueue string
	WorkingQueue string

	// A build task sitting on the working queue longer than StaleTaskAfter
	// is assumed lost and goes back to the waiting queue.
	StaleTaskAfter     time.Duration
	StaleCheckInterval time.Duration

	// BoardPassword authenticates devices on /ws/board.
	BoardPassword string

	// ReconcileInterval is the board/user liveness sweep period.
	ReconcileInterval time.Duration

	WSQueueSize        int
	WSWriteTimeout     time.Duration
	WSHeartbeatEvery   time.Duration
	WSHeartbeatTimeout time.Duration
	WSAllowedOrigins   []string

	// AllowAnonymousWSUser lets unauthenticated clients onto /ws/user with
	// an address-derived name. Dev only.
	AllowAnonymousWSUser bool

	SessionTTL   time.Duration
	SecureCookie bool

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, FPGALAB_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and
	// session-token hashing must be HMAC-based.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("FPGALAB_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("FPGALAB_LOG_LEVEL", "info"),
		LogFormat: EnvString("FPGALAB_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("FPGALAB_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("FPGALAB_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("FPGALAB_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("FPGALAB_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("FPGALAB_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("FPGALAB_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("FPGALAB_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("FPGALAB_DB_MIN_CONNS", 0),

		RedisURL:     EnvString("FPGALAB_REDIS_URL", ""),
		WaitingQueue: EnvString("FPGALAB_REDIS_WAITING_QUEUE", "fpgalab:tasks:waiting"),
		WorkingQueue: EnvString("FPGALAB_REDIS_WORKING_QUEUE", "fpgalab:tasks:working"),

		StaleTaskAfter:     EnvDuration("FPGALAB_STALE_TASK_AFTER", 5*time.Minute),
		StaleCheckInterval: EnvDuration("FPGALAB_STALE_CHECK_INTERVAL", time.Minute),

		BoardPassword: EnvString("FPGALAB_BOARD_PASSWORD", ""),

		ReconcileInterval: EnvDuration("FPGALAB_RECONCILE_INTERVAL", 5*time.Second),

		WSQueueSize:        EnvInt("FPGALAB_WS_QUEUE_SIZE", 64),
		WSWriteTimeout:     EnvDuration("FPGALAB_WS_WRITE_TIMEOUT", 5*time.Second),
		WSHeartbeatEvery:   EnvDuration("FPGALAB_WS_HEARTBEAT_EVERY", 5*time.Second),
		WSHeartbeatTimeout: EnvDuration("FPGALAB_WS_HEARTBEAT_TIMEOUT", 5*time.Second),
		WSAllowedOrigins:   EnvStrings("FPGALAB_WS_ALLOWED_ORIGINS", nil),

		AllowAnonymousWSUser: EnvBool("FPGALAB_ALLOW_ANONYMOUS_WS_USER", false),

		SessionTTL:   EnvDuration("FPGALAB_SESSION_TTL", 14*24*time.Hour),
		SecureCookie: EnvBool("FPGALAB_SECURE_COOKIE", false),

		S3Endpoint:  EnvString("FPGALAB_S3_ENDPOINT", ""),
		S3Region:    EnvString("FPGALAB_S3_REGION", "us-east-1"),
		S3Bucket:    EnvString("FPGALAB_S3_BUCKET", ""),
		S3AccessKey: EnvString("FPGALAB_S3_ACCESS_KEY", ""),
		S3SecretKey: EnvString("FPGALAB_S3_SECRET_KEY", ""),

		CORSAllowedOrigins:   EnvStrings("FPGALAB_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("FPGALAB_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("FPGALAB_CORS_MAX_AGE_SECONDS", 600),

		ReadinessRequireDB: EnvBool("FPGALAB_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("FPGALAB_REQUIRE_TOKEN_HMAC", false),
	}
}
