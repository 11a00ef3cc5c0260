package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/leaderboard"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/objectstore"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errMissingGoogleVerifier = errors.New("google verifier dependency required")
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingUserDirectory  = errors.New("user directory dependency required")
	errMissingNoteStore      = errors.New("note store dependency required")
	errMissingNoteUploader   = errors.New("note uploader dependency required")
	errMissingLeaderboard    = errors.New("leaderboard dependency required")
	errMissingLayout         = errors.New("object layout dependency required")
)

type GoogleVerifier interface {
	Verify(ctx context.Context, token string) (auth.GoogleClaims, error)
}

type BackendTokenManager interface {
	IssueBackendToken(subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

type UserDirectory interface {
	FindOrCreate(ctx context.Context, profile users.Profile) (users.User, error)
	FindByGoogleID(ctx context.Context, googleID string) (users.User, error)
}

type NoteStore interface {
	ListNotes(ctx context.Context, limit int, callerID string) ([]notes.NoteView, error)
	SearchNotes(ctx context.Context, term string, callerID string) ([]notes.NoteView, error)
	GetNote(ctx context.Context, noteID string, callerID string) (notes.NoteView, error)
	IncrementDownloads(ctx context.Context, noteID string) (notes.Note, error)
	Vote(ctx context.Context, userID, noteID string, action notes.VoteAction) (*notes.Vote, error)
}

type NoteUploader interface {
	Upload(ctx context.Context, request notes.UploadRequest) (notes.NoteView, error)
}

type Leaderboard interface {
	Rank(ctx context.Context, limit int) ([]leaderboard.Entry, error)
	PositionOf(ctx context.Context, userID string) (leaderboard.Entry, error)
}

// Dependencies wires the HTTP layer. StaticRoot is served under /static when set.
type Dependencies struct {
	GoogleVerifier   GoogleVerifier
	TokenManager     BackendTokenManager
	Users            UserDirectory
	Notes            NoteStore
	Uploader         NoteUploader
	Leaderboard      Leaderboard
	Layout           objectstore.Layout
	MaxFileSizeBytes int64
	StaticRoot       string
	Logger           *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.GoogleVerifier == nil {
		return nil, errMissingGoogleVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUserDirectory
	}
	if deps.Notes == nil {
		return nil, errMissingNoteStore
	}
	if deps.Uploader == nil {
		return nil, errMissingNoteUploader
	}
	if deps.Leaderboard == nil {
		return nil, errMissingLeaderboard
	}
	if deps.Layout.NotesPrefix() == "" {
		return nil, errMissingLayout
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		verifier:    deps.GoogleVerifier,
		tokens:      deps.TokenManager,
		users:       deps.Users,
		notes:       deps.Notes,
		uploader:    deps.Uploader,
		leaderboard: deps.Leaderboard,
		layout:      deps.Layout,
		maxFileSize: deps.MaxFileSizeBytes,
		logger:      logger,
	}

	api := router.Group("/api")
	api.POST("/auth/google", handler.handleGoogleAuth)
	api.GET("/notes/:id/download", handler.handleDownload)
	api.GET("/leaderboard", handler.handleLeaderboard)
	api.GET("/users/:id/leaderboard-position", handler.handleLeaderboardPosition)

	protected := api.Group("/")
	protected.Use(handler.requireUser)
	protected.GET("/auth/me", handler.handleCurrentUser)
	protected.POST("/notes/upload", handler.handleUpload)
	protected.POST("/notes/:id/vote", handler.handleVote)

	optional := api.Group("/")
	optional.Use(handler.optionalUser)
	optional.GET("/notes", handler.handleListNotes)
	optional.GET("/notes/search", handler.handleSearchNotes)
	optional.GET("/notes/:id", handler.handleGetNote)

	if deps.StaticRoot != "" {
		router.Static("/static", deps.StaticRoot)
	}

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodHead, http.MethodOptions},
		AllowHeaders:    []string{"Authorization", "Content-Type", "Accept", "Origin", "X-Requested-With"},
		MaxAge:          24 * time.Hour,
	})
}

type httpHandler struct {
	verifier    GoogleVerifier
	tokens      BackendTokenManager
	users       UserDirectory
	notes       NoteStore
	uploader    NoteUploader
	leaderboard Leaderboard
	layout      objectstore.Layout
	maxFileSize int64
	logger      *zap.Logger
}
