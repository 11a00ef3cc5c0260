package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/config"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/database"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/leaderboard"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/objectstore"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/preview"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/reconcile"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/server"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "campusnotes-api",
		Short: "Campus Notes backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID")
	flags.String("google-jwks-url", defaults.GetString("google.jwks_url"), "Google JWKS URL")
	flags.StringSlice("google-allowed-domains", nil, "Campus domains allowed to sign in (empty allows any Google account)")
	flags.String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("database-dsn", defaults.GetString("database.dsn"), "Postgres connection string")
	flags.Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Backend token TTL in minutes")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("signing-secret", "", "Backend signing secret (overrides env)")
	flags.Int("max-file-size-mib", defaults.GetInt("upload.max_file_size_mib"), "Maximum note upload size in MiB")
	flags.String("storage-backend", defaults.GetString("storage.backend"), "Object storage backend (filesystem, minio)")
	flags.String("storage-root", defaults.GetString("storage.root"), "Filesystem storage root")
	flags.String("static-base-url", defaults.GetString("static.base_url"), "Public base URL for stored files")
	flags.Bool("preview-enabled", defaults.GetBool("preview.enabled"), "Render preview images with pdftoppm")
	flags.Int("reconcile-interval-minutes", defaults.GetInt("reconcile.interval_minutes"), "Orphaned object sweep interval in minutes (0 disables)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.jwks_url", "google-jwks-url")
	bindFlag(cmd, "google.allowed_domains", "google-allowed-domains")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "upload.max_file_size_mib", "max-file-size-mib")
	bindFlag(cmd, "storage.backend", "storage-backend")
	bindFlag(cmd, "storage.root", "storage-root")
	bindFlag(cmd, "static.base_url", "static-base-url")
	bindFlag(cmd, "preview.enabled", "preview-enabled")
	bindFlag(cmd, "reconcile.interval_minutes", "reconcile-interval-minutes")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if logging.ParseLevel(appConfig.LogLevel) != zap.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(appConfig.Database, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	layout, err := objectstore.NewLayout(appConfig.Storage.NotesPrefix, appConfig.Storage.PreviewsPrefix, appConfig.Storage.StaticBaseURL)
	if err != nil {
		return err
	}
	objects, staticRoot, err := openObjectStore(signalCtx, appConfig)
	if err != nil {
		return err
	}

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "campusnotes-auth",
		Audience:      "campusnotes-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	googleVerifier, err := auth.NewGoogleVerifier(auth.GoogleVerifierConfig{
		Audience:       appConfig.GoogleClientID,
		JWKSURL:        appConfig.GoogleJWKSURL,
		AllowedIssuers: []string{"https://accounts.google.com", "accounts.google.com"},
		AllowedDomains: appConfig.GoogleAllowedDomains,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	idProvider := ids.NewUUIDProvider()
	userService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
	})
	if err != nil {
		return err
	}

	noteStore, err := notes.NewStore(notes.StoreConfig{
		Database:   db,
		Layout:     &layout,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	uploader, err := notes.NewUploader(notes.UploaderConfig{
		Store:            noteStore,
		Objects:          objects,
		Layout:           layout,
		Renderer:         newRenderer(appConfig.Preview),
		MaxFileSizeBytes: appConfig.Upload.MaxFileSizeBytes,
		DefaultYear:      appConfig.Upload.DefaultYear,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	ranker, err := leaderboard.NewRanker(db)
	if err != nil {
		return err
	}

	reconciler, err := reconcile.NewReconciler(reconcile.Config{
		Database: db,
		Objects:  objects,
		Layout:   layout,
		Grace:    appConfig.Reconcile.Grace,
		Logger:   logger.Named("reconcile"),
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		GoogleVerifier:   googleVerifier,
		TokenManager:     tokenManager,
		Users:            userService,
		Notes:            noteStore,
		Uploader:         uploader,
		Leaderboard:      ranker,
		Layout:           layout,
		MaxFileSizeBytes: appConfig.Upload.MaxFileSizeBytes,
		StaticRoot:       staticRoot,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return reconciler.Run(groupCtx, appConfig.Reconcile.Interval)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

// openObjectStore returns the configured store and, for the filesystem backend,
// the directory to serve under /static.
func openObjectStore(ctx context.Context, appConfig config.AppConfig) (objectstore.Store, string, error) {
	switch appConfig.Storage.Backend {
	case config.StorageBackendMinio:
		store, err := objectstore.NewMinio(ctx, objectstore.MinioConfig{
			Endpoint:  appConfig.Minio.Endpoint,
			AccessKey: appConfig.Minio.AccessKey,
			SecretKey: appConfig.Minio.SecretKey,
			Bucket:    appConfig.Minio.Bucket,
			UseSSL:    appConfig.Minio.UseSSL,
		})
		if err != nil {
			return nil, "", err
		}
		return store, "", nil
	default:
		store, err := objectstore.NewFileSystem(appConfig.Storage.Root)
		if err != nil {
			return nil, "", err
		}
		return store, store.Root(), nil
	}
}

func newRenderer(cfg config.PreviewConfig) preview.Renderer {
	if !cfg.Enabled {
		return preview.Disabled{}
	}
	return preview.NewPdftoppm(preview.PdftoppmConfig{
		Binary:  cfg.Binary,
		Width:   cfg.Width,
		Timeout: cfg.Timeout,
	})
}
