package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "CAMPUSNOTES"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultLogLevel          = "info"
	defaultDatabaseDriver    = DatabaseDriverSQLite
	defaultDatabasePath      = "campusnotes.db"
	defaultGoogleJWKSURL     = "https://www.googleapis.com/oauth2/v3/certs"
	defaultTokenTTLMinutes   = 24 * 60
	defaultMaxFileSizeMiB    = 10
	defaultNoteYear          = 2025
	defaultStorageBackend    = StorageBackendFileSystem
	defaultStorageRoot       = "./static_files"
	defaultNotesPrefix       = "notes/uploaded"
	defaultPreviewsPrefix    = "previews/uploaded"
	defaultStaticBaseURL     = "http://localhost:8080/static/"
	defaultMinioBucket       = "campusnotes"
	defaultPreviewBinary     = "pdftoppm"
	defaultPreviewWidth      = 800
	defaultPreviewTimeoutSec = 30
	defaultReconcileInterval = 60
	defaultReconcileGrace    = 30
)

const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"

	StorageBackendFileSystem = "filesystem"
	StorageBackendMinio      = "minio"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	LogLevel      string
	SigningSecret string
	TokenTTL      time.Duration

	GoogleClientID       string
	GoogleJWKSURL        string
	GoogleAllowedDomains []string

	Database  DatabaseConfig
	Upload    UploadConfig
	Storage   StorageConfig
	Minio     MinioConfig
	Preview   PreviewConfig
	Reconcile ReconcileConfig
}

// DatabaseConfig selects and locates the relational store.
type DatabaseConfig struct {
	Driver string
	Path   string
	DSN    string
}

// UploadConfig bounds note uploads.
type UploadConfig struct {
	MaxFileSizeBytes int64
	DefaultYear      int
}

// StorageConfig describes where note files and previews live.
type StorageConfig struct {
	Backend        string
	Root           string
	NotesPrefix    string
	PreviewsPrefix string
	StaticBaseURL  string
}

// MinioConfig holds S3-compatible endpoint settings.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// PreviewConfig controls the pdftoppm preview renderer.
type PreviewConfig struct {
	Enabled bool
	Binary  string
	Width   int
	Timeout time.Duration
}

// ReconcileConfig controls the orphaned-object sweep. A zero Interval disables it.
type ReconcileConfig struct {
	Interval time.Duration
	Grace    time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("google.client_id", "")
	configViper.SetDefault("google.jwks_url", defaultGoogleJWKSURL)
	configViper.SetDefault("google.allowed_domains", []string{})
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("upload.max_file_size_mib", defaultMaxFileSizeMiB)
	configViper.SetDefault("upload.default_year", defaultNoteYear)
	configViper.SetDefault("storage.backend", defaultStorageBackend)
	configViper.SetDefault("storage.root", defaultStorageRoot)
	configViper.SetDefault("storage.notes_prefix", defaultNotesPrefix)
	configViper.SetDefault("storage.previews_prefix", defaultPreviewsPrefix)
	configViper.SetDefault("static.base_url", defaultStaticBaseURL)
	configViper.SetDefault("minio.endpoint", "")
	configViper.SetDefault("minio.access_key", "")
	configViper.SetDefault("minio.secret_key", "")
	configViper.SetDefault("minio.bucket", defaultMinioBucket)
	configViper.SetDefault("minio.use_ssl", false)
	configViper.SetDefault("preview.enabled", true)
	configViper.SetDefault("preview.binary", defaultPreviewBinary)
	configViper.SetDefault("preview.width", defaultPreviewWidth)
	configViper.SetDefault("preview.timeout_seconds", defaultPreviewTimeoutSec)
	configViper.SetDefault("reconcile.interval_minutes", defaultReconcileInterval)
	configViper.SetDefault("reconcile.grace_minutes", defaultReconcileGrace)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          strings.TrimSpace(configViper.GetString("http.address")),
		LogLevel:             configViper.GetString("log.level"),
		SigningSecret:        configViper.GetString("auth.signing_secret"),
		TokenTTL:             time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		GoogleClientID:       strings.TrimSpace(configViper.GetString("google.client_id")),
		GoogleJWKSURL:        strings.TrimSpace(configViper.GetString("google.jwks_url")),
		GoogleAllowedDomains: splitList(configViper.GetStringSlice("google.allowed_domains")),
		Database: DatabaseConfig{
			Driver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
			Path:   strings.TrimSpace(configViper.GetString("database.path")),
			DSN:    strings.TrimSpace(configViper.GetString("database.dsn")),
		},
		Upload: UploadConfig{
			MaxFileSizeBytes: configViper.GetInt64("upload.max_file_size_mib") << 20,
			DefaultYear:      configViper.GetInt("upload.default_year"),
		},
		Storage: StorageConfig{
			Backend:        strings.ToLower(strings.TrimSpace(configViper.GetString("storage.backend"))),
			Root:           strings.TrimSpace(configViper.GetString("storage.root")),
			NotesPrefix:    strings.Trim(configViper.GetString("storage.notes_prefix"), "/ "),
			PreviewsPrefix: strings.Trim(configViper.GetString("storage.previews_prefix"), "/ "),
			StaticBaseURL:  strings.TrimSpace(configViper.GetString("static.base_url")),
		},
		Minio: MinioConfig{
			Endpoint:  strings.TrimSpace(configViper.GetString("minio.endpoint")),
			AccessKey: configViper.GetString("minio.access_key"),
			SecretKey: configViper.GetString("minio.secret_key"),
			Bucket:    strings.TrimSpace(configViper.GetString("minio.bucket")),
			UseSSL:    configViper.GetBool("minio.use_ssl"),
		},
		Preview: PreviewConfig{
			Enabled: configViper.GetBool("preview.enabled"),
			Binary:  strings.TrimSpace(configViper.GetString("preview.binary")),
			Width:   configViper.GetInt("preview.width"),
			Timeout: time.Duration(configViper.GetInt("preview.timeout_seconds")) * time.Second,
		},
		Reconcile: ReconcileConfig{
			Interval: time.Duration(configViper.GetInt("reconcile.interval_minutes")) * time.Minute,
			Grace:    time.Duration(configViper.GetInt("reconcile.grace_minutes")) * time.Minute,
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.GoogleClientID == "" {
		return fmt.Errorf("google.client_id is required")
	}
	if c.GoogleJWKSURL == "" {
		return fmt.Errorf("google.jwks_url is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}

	switch c.Database.Driver {
	case DatabaseDriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case DatabaseDriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}

	if c.Upload.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("upload.max_file_size_mib must be positive")
	}

	switch c.Storage.Backend {
	case StorageBackendFileSystem:
		if c.Storage.Root == "" {
			return fmt.Errorf("storage.root is required for the filesystem backend")
		}
	case StorageBackendMinio:
		if c.Minio.Endpoint == "" {
			return fmt.Errorf("minio.endpoint is required for the minio backend")
		}
		if c.Minio.Bucket == "" {
			return fmt.Errorf("minio.bucket is required for the minio backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.Storage.NotesPrefix == "" || c.Storage.PreviewsPrefix == "" {
		return fmt.Errorf("storage prefixes must not be empty")
	}
	if c.Storage.NotesPrefix == c.Storage.PreviewsPrefix {
		return fmt.Errorf("storage.notes_prefix and storage.previews_prefix must differ")
	}

	baseURL, err := url.Parse(c.Storage.StaticBaseURL)
	if err != nil || !baseURL.IsAbs() {
		return fmt.Errorf("static.base_url must be an absolute url")
	}

	if c.Preview.Enabled {
		if c.Preview.Binary == "" {
			return fmt.Errorf("preview.binary is required when previews are enabled")
		}
		if c.Preview.Width <= 0 {
			return fmt.Errorf("preview.width must be positive")
		}
	}
	if c.Reconcile.Interval < 0 || c.Reconcile.Grace < 0 {
		return fmt.Errorf("reconcile durations must not be negative")
	}
	return nil
}

// splitList flattens comma or whitespace separated entries, as env vars arrive as one string.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, field := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' }) {
			out = append(out, strings.ToLower(field))
		}
	}
	return out
}
