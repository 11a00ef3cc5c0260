package notes

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/objectstore"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

const (
	opStoreNew           = "notes.store.new"
	opBeginUpload        = "notes.upload.begin"
	opInsertNote         = "notes.upload.insert"
	opSetPreviewFlag     = "notes.upload.set_preview"
	opListNotes          = "notes.list"
	opSearchNotes        = "notes.search"
	opGetNote            = "notes.get"
	opIncrementDownloads = "notes.increment_downloads"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingLayout   = errors.New("object layout is required")
	errNoRowsAffected  = errors.New("no rows affected")
	noOpLogger         = zap.NewNop()
)

// StoreConfig describes the dependencies of the relational note store.
type StoreConfig struct {
	Database   *gorm.DB
	Layout     *objectstore.Layout
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Store persists notes and votes and answers note reads.
type Store struct {
	db         *gorm.DB
	layout     objectstore.Layout
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

// NewStore validates the configuration and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(KindDatabase, opStoreNew, "missing_database", "Database unavailable", errMissingDatabase)
	}
	if cfg.Layout == nil {
		return nil, newServiceError(KindDatabase, opStoreNew, "missing_layout", "Storage layout unavailable", errMissingLayout)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:         cfg.Database,
		layout:     *cfg.Layout,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// UploadTx is an open storage transaction used by a single upload.
type UploadTx interface {
	InsertNote(ctx context.Context, fields NewNote) (Note, error)
	SetPreviewFlag(ctx context.Context, noteID string, hasPreview bool) error
	Commit() error
	Rollback() error
}

// UploadBeginner opens upload transactions.
type UploadBeginner interface {
	BeginUpload(ctx context.Context) (UploadTx, error)
}

type gormUploadTx struct {
	store *Store
	tx    *gorm.DB
}

// BeginUpload opens a transaction. Rows inserted through it are invisible to readers until Commit.
func (s *Store) BeginUpload(ctx context.Context) (UploadTx, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		s.logError(opBeginUpload, "begin_failed", tx.Error)
		return nil, newServiceError(KindDatabase, opBeginUpload, "begin_failed", "Failed to create note", tx.Error)
	}
	return &gormUploadTx{store: s, tx: tx}, nil
}

func (u *gormUploadTx) InsertNote(ctx context.Context, fields NewNote) (Note, error) {
	var uploader users.User
	err := u.tx.WithContext(ctx).Where("id = ?", fields.UploaderUserID).Take(&uploader).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Note{}, newServiceError(KindNotFound, opInsertNote, "uploader_not_found", "User not found", err)
	}
	if err != nil {
		u.store.logError(opInsertNote, "uploader_select_failed", err, zap.String("user_id", fields.UploaderUserID))
		return Note{}, newServiceError(KindDatabase, opInsertNote, "uploader_select_failed", "Failed to create note", err)
	}

	noteID, err := u.store.idProvider.NewID()
	if err != nil {
		u.store.logError(opInsertNote, "id_generation_failed", err)
		return Note{}, newServiceError(KindDatabase, opInsertNote, "id_generation_failed", "Failed to create note", err)
	}

	tags := fields.Tags
	if tags == nil {
		tags = []string{}
	}
	note := Note{
		ID:              noteID,
		CourseName:      fields.CourseName,
		CourseCode:      fields.CourseCode,
		Description:     fields.Description,
		ProfessorNames:  fields.ProfessorNames,
		Tags:            tags,
		IsPublic:        true,
		HasPreviewImage: false,
		UploaderUserID:  uploader.ID,
		CreatedAt:       u.store.clock().UTC(),
		NoteYear:        fields.Year,
		NoteSemester:    fields.Semester,
	}
	if err := u.tx.WithContext(ctx).Omit(clause.Associations).Create(&note).Error; err != nil {
		u.store.logError(opInsertNote, "insert_failed", err, zap.String("note_id", noteID))
		return Note{}, newServiceError(KindDatabase, opInsertNote, "insert_failed", "Failed to create note", err)
	}
	note.Uploader = uploader
	return note, nil
}

func (u *gormUploadTx) SetPreviewFlag(ctx context.Context, noteID string, hasPreview bool) error {
	result := u.tx.WithContext(ctx).Model(&Note{}).
		Where("id = ?", noteID).
		Update("has_preview_image", hasPreview)
	if result.Error != nil {
		return newServiceError(KindDatabase, opSetPreviewFlag, "update_failed", "Failed to update note", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(KindNotFound, opSetPreviewFlag, "note_missing", "Note not found", errNoRowsAffected)
	}
	return nil
}

func (u *gormUploadTx) Commit() error {
	return u.tx.Commit().Error
}

func (u *gormUploadTx) Rollback() error {
	return u.tx.Rollback().Error
}

// ListNotes returns the newest notes first. A non-positive limit selects the default of 10.
func (s *Store) ListNotes(ctx context.Context, limit int, callerID string) ([]NoteView, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	var views []NoteView
	err := s.snapshotRead(ctx, func(tx *gorm.DB) error {
		var notes []Note
		if err := tx.Preload("Uploader").
			Order("created_at DESC").
			Order("id DESC").
			Limit(limit).
			Find(&notes).Error; err != nil {
			return err
		}
		var err error
		views, err = s.decorate(tx, notes, callerID)
		return err
	})
	if err != nil {
		s.logError(opListNotes, "query_failed", err)
		return nil, newServiceError(KindDatabase, opListNotes, "query_failed", "Failed to fetch notes", err)
	}
	return views, nil
}

// SearchNotes matches the term case-insensitively against course name and code,
// ordered by upvotes then recency.
func (s *Store) SearchNotes(ctx context.Context, term string, callerID string) ([]NoteView, error) {
	trimmed := strings.TrimSpace(term)
	if trimmed == "" {
		return nil, newServiceError(KindInvalidData, opSearchNotes, "empty_query", "Query cannot be empty", nil)
	}
	pattern := "%" + escapeLike(strings.ToLower(trimmed)) + "%"

	var views []NoteView
	err := s.snapshotRead(ctx, func(tx *gorm.DB) error {
		var notes []Note
		if err := tx.Preload("Uploader").
			Where("LOWER(course_name) LIKE ? ESCAPE '\\' OR LOWER(course_code) LIKE ? ESCAPE '\\'", pattern, pattern).
			Find(&notes).Error; err != nil {
			return err
		}
		var err error
		views, err = s.decorate(tx, notes, callerID)
		return err
	})
	if err != nil {
		s.logError(opSearchNotes, "query_failed", err)
		return nil, newServiceError(KindDatabase, opSearchNotes, "query_failed", "Failed to fetch notes", err)
	}
	sortByUpvotesThenRecency(views)
	return views, nil
}

// GetNote returns one note with its counters.
func (s *Store) GetNote(ctx context.Context, noteID string, callerID string) (NoteView, error) {
	var view NoteView
	found := false
	err := s.snapshotRead(ctx, func(tx *gorm.DB) error {
		var notes []Note
		if err := tx.Preload("Uploader").Where("id = ?", noteID).Limit(1).Find(&notes).Error; err != nil {
			return err
		}
		if len(notes) == 0 {
			return nil
		}
		views, err := s.decorate(tx, notes, callerID)
		if err != nil {
			return err
		}
		view = views[0]
		found = true
		return nil
	})
	if err != nil {
		s.logError(opGetNote, "query_failed", err, zap.String("note_id", noteID))
		return NoteView{}, newServiceError(KindDatabase, opGetNote, "query_failed", "Failed to fetch note", err)
	}
	if !found {
		return NoteView{}, newServiceError(KindNotFound, opGetNote, "not_found", "Note not found", nil)
	}
	return view, nil
}

// IncrementDownloads atomically bumps the download counter and returns the updated note.
func (s *Store) IncrementDownloads(ctx context.Context, noteID string) (Note, error) {
	var note Note
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Note{}).
			Where("id = ?", noteID).
			UpdateColumn("downloads", gorm.Expr("downloads + ?", 1))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("id = ?", noteID).Take(&note).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Note{}, newServiceError(KindNotFound, opIncrementDownloads, "not_found", "Note not found", nil)
	}
	if err != nil {
		s.logError(opIncrementDownloads, "update_failed", err, zap.String("note_id", noteID))
		return Note{}, newServiceError(KindDatabase, opIncrementDownloads, "update_failed", "Failed to increment note downloads", err)
	}
	return note, nil
}

func newNoteView(layout objectstore.Layout, note Note, upvotes, downvotes int64, userVote *bool) NoteView {
	view := NoteView{
		Note:      note,
		Upvotes:   upvotes,
		Downvotes: downvotes,
		UserVote:  userVote,
		FileURL:   layout.URL(layout.NoteKey(note.ID)),
	}
	if note.HasPreviewImage {
		view.PreviewImageURL = layout.URL(layout.PreviewKey(note.ID))
	}
	return view
}

type voteTally struct {
	NoteID    string
	Upvotes   int64
	Downvotes int64
}

// decorate attaches vote counts and the caller's vote using the same transaction as the note query.
func (s *Store) decorate(tx *gorm.DB, notes []Note, callerID string) ([]NoteView, error) {
	views := make([]NoteView, 0, len(notes))
	if len(notes) == 0 {
		return views, nil
	}
	noteIDs := make([]string, 0, len(notes))
	for _, note := range notes {
		noteIDs = append(noteIDs, note.ID)
	}

	var tallies []voteTally
	if err := tx.Model(&Vote{}).
		Select("note_id, "+
			"SUM(CASE WHEN is_upvote = ? THEN 1 ELSE 0 END) AS upvotes, "+
			"SUM(CASE WHEN is_upvote = ? THEN 0 ELSE 1 END) AS downvotes", true, true).
		Where("note_id IN ?", noteIDs).
		Group("note_id").
		Scan(&tallies).Error; err != nil {
		return nil, err
	}
	tallyByNote := make(map[string]voteTally, len(tallies))
	for _, tally := range tallies {
		tallyByNote[tally.NoteID] = tally
	}

	callerVotes := map[string]bool{}
	if callerID != "" {
		var votes []Vote
		if err := tx.Where("user_id = ? AND note_id IN ?", callerID, noteIDs).Find(&votes).Error; err != nil {
			return nil, err
		}
		for _, vote := range votes {
			callerVotes[vote.NoteID] = vote.IsUpvote
		}
	}

	for _, note := range notes {
		tally := tallyByNote[note.ID]
		var userVote *bool
		if isUpvote, ok := callerVotes[note.ID]; ok {
			value := isUpvote
			userVote = &value
		}
		views = append(views, newNoteView(s.layout, note, tally.Upvotes, tally.Downvotes, userVote))
	}
	return views, nil
}

// snapshotRead runs fn in a read transaction. On postgres the transaction is
// REPEATABLE READ so multi-statement reads see one snapshot; sqlite serialises
// on its single connection.
func (s *Store) snapshotRead(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SET TRANSACTION ISOLATION LEVEL REPEATABLE READ READ ONLY").Error; err != nil {
				return err
			}
		}
		return fn(tx)
	})
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("notes store error", attrs...)
}
