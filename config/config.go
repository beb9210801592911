package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppPort       string
	AppMode       string
	LogMode       string
	DBHost        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBPort        string
	DBSSLMode     string
	JWTSecret     string
	JWTExpiryMin  int
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	CORSOrigins     []string
	AuthRateLimit   int
	AuthRateWindow  time.Duration
	ShutdownTimeout time.Duration

	Bunny  BunnyConfig
	Upload UploadConfig
	S3     S3Config
}

// BunnyConfig is everything needed to talk to the video registry, the tus
// ingest endpoint and the playback CDN.
type BunnyConfig struct {
	LibraryID   string
	APIKey      string
	APIBase     string
	TusEndpoint string
	CDNHost     string
	TokenKey    string
	TokenScheme string
	EmbedBase   string
}

type UploadConfig struct {
	ChunkSize     int64
	CredentialTTL time.Duration
	PlaybackTTL   time.Duration
	StagingDir    string
	MaxJobs       int
	JobRetention  time.Duration
	// RestartWindow is how long a job that failed on a network error stays
	// restartable.
	RestartWindow time.Duration
}

type S3Config struct {
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	Endpoint   string
	PresignTTL time.Duration
}

func defaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("APP_MODE", "debug")
	v.SetDefault("LOG_MODE", "development")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "volleystat")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("JWT_SECRET", "change-me")
	v.SetDefault("JWT_EXPIRY_MIN", 60)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("AUTH_RATE_LIMIT", 10)
	v.SetDefault("AUTH_RATE_WINDOW_SEC", 60)
	v.SetDefault("SHUTDOWN_TIMEOUT_SEC", 10)

	v.SetDefault("BUNNY_API_BASE", "https://video.bunnycdn.com")
	v.SetDefault("BUNNY_TUS_ENDPOINT", "https://video.bunnycdn.com/tusupload")
	v.SetDefault("BUNNY_TOKEN_SCHEME", "hmac-hex")
	v.SetDefault("BUNNY_EMBED_BASE", "https://iframe.mediadelivery.net/embed")

	v.SetDefault("UPLOAD_CHUNK_SIZE", 5*1024*1024)
	v.SetDefault("UPLOAD_CREDENTIAL_TTL_SEC", 30*60)
	v.SetDefault("PLAYBACK_TTL_SEC", 15*60)
	v.SetDefault("UPLOAD_STAGING_DIR", "/tmp/volleystat-staging")
	v.SetDefault("UPLOAD_MAX_JOBS", 4)
	v.SetDefault("UPLOAD_JOB_RETENTION_HOURS", 30*24)
	v.SetDefault("UPLOAD_RESTART_WINDOW_MIN", 30)

	v.SetDefault("S3_PRESIGN_TTL_SEC", 15*60)
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return FromViper(NewViper())
}

// FromViper builds a Config from an already populated viper instance. The
// uploader CLI uses it after binding its own flags.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		AppPort:       v.GetString("APP_PORT"),
		AppMode:       v.GetString("APP_MODE"),
		LogMode:       v.GetString("LOG_MODE"),
		DBHost:        v.GetString("DB_HOST"),
		DBUser:        v.GetString("DB_USER"),
		DBPassword:    v.GetString("DB_PASSWORD"),
		DBName:        v.GetString("DB_NAME"),
		DBPort:        v.GetString("DB_PORT"),
		DBSSLMode:     v.GetString("DB_SSLMODE"),
		JWTSecret:     v.GetString("JWT_SECRET"),
		JWTExpiryMin:  v.GetInt("JWT_EXPIRY_MIN"),
		RedisHost:     v.GetString("REDIS_HOST"),
		RedisPort:     v.GetString("REDIS_PORT"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		CORSOrigins:     splitList(v.GetString("CORS_ORIGINS")),
		AuthRateLimit:   v.GetInt("AUTH_RATE_LIMIT"),
		AuthRateWindow:  seconds(v, "AUTH_RATE_WINDOW_SEC"),
		ShutdownTimeout: seconds(v, "SHUTDOWN_TIMEOUT_SEC"),

		Bunny: BunnyConfig{
			LibraryID:   v.GetString("BUNNY_LIBRARY_ID"),
			APIKey:      v.GetString("BUNNY_API_KEY"),
			APIBase:     v.GetString("BUNNY_API_BASE"),
			TusEndpoint: v.GetString("BUNNY_TUS_ENDPOINT"),
			CDNHost:     v.GetString("BUNNY_STREAM_CDN"),
			TokenKey:    v.GetString("BUNNY_STREAM_TOKEN_KEY"),
			TokenScheme: v.GetString("BUNNY_TOKEN_SCHEME"),
			EmbedBase:   v.GetString("BUNNY_EMBED_BASE"),
		},
		Upload: UploadConfig{
			ChunkSize:     v.GetInt64("UPLOAD_CHUNK_SIZE"),
			CredentialTTL: seconds(v, "UPLOAD_CREDENTIAL_TTL_SEC"),
			PlaybackTTL:   seconds(v, "PLAYBACK_TTL_SEC"),
			StagingDir:    v.GetString("UPLOAD_STAGING_DIR"),
			MaxJobs:       v.GetInt("UPLOAD_MAX_JOBS"),
			JobRetention:  time.Duration(v.GetInt64("UPLOAD_JOB_RETENTION_HOURS")) * time.Hour,
			RestartWindow: time.Duration(v.GetInt64("UPLOAD_RESTART_WINDOW_MIN")) * time.Minute,
		},
		S3: S3Config{
			Region:     v.GetString("S3_REGION"),
			Bucket:     v.GetString("S3_BUCKET"),
			AccessKey:  v.GetString("S3_ACCESS_KEY"),
			SecretKey:  v.GetString("S3_SECRET_KEY"),
			Endpoint:   v.GetString("S3_ENDPOINT"),
			PresignTTL: seconds(v, "S3_PRESIGN_TTL_SEC"),
		},
	}
}

// NewViper returns a viper instance with every default registered and
// environment lookups enabled.
func NewViper() *viper.Viper {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()
	return v
}

func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt64(key)) * time.Second
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
