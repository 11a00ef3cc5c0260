package notes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/objectstore"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/preview"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"
)

const (
	opUpload   = "notes.upload"
	opValidate = "notes.upload.validate"

	pdfContentType  = "application/pdf"
	jpegContentType = "image/jpeg"

	defaultNoteYear = 2025
	minNoteYear     = 1900
	maxNoteYear     = 9999
)

var (
	errMissingUploadStore = errors.New("upload store is required")
	errMissingObjects     = errors.New("object store is required")
	errMissingRenderer    = errors.New("preview renderer is required")
	errInvalidSizeLimit   = errors.New("max file size must be positive")
)

// UploadMetadata is the caller-supplied description of a note.
type UploadMetadata struct {
	CourseName     string
	CourseCode     string
	Description    string
	ProfessorNames []string
	Tags           []string
	Year           *int
	Semester       string
}

// UploadFile is the received document.
type UploadFile struct {
	Content     []byte
	ContentType string
}

// UploadRequest is one note upload by an authenticated user. File is nil when none was sent.
type UploadRequest struct {
	Metadata   UploadMetadata
	File       *UploadFile
	UploaderID string
}

// UploaderConfig describes the collaborators of the upload workflow.
type UploaderConfig struct {
	Store            UploadBeginner
	Objects          objectstore.Store
	Layout           objectstore.Layout
	Renderer         preview.Renderer
	MaxFileSizeBytes int64
	DefaultYear      int
	ScratchDir       string
	Logger           *zap.Logger
}

// Uploader keeps a note row, its PDF object, and its preview consistent.
type Uploader struct {
	store       UploadBeginner
	objects     objectstore.Store
	layout      objectstore.Layout
	renderer    preview.Renderer
	maxSize     int64
	defaultYear int
	scratchDir  string
	logger      *zap.Logger
}

// NewUploader validates the configuration and constructs an Uploader.
func NewUploader(cfg UploaderConfig) (*Uploader, error) {
	if cfg.Store == nil {
		return nil, errMissingUploadStore
	}
	if cfg.Objects == nil {
		return nil, errMissingObjects
	}
	if cfg.Renderer == nil {
		return nil, errMissingRenderer
	}
	if cfg.MaxFileSizeBytes <= 0 {
		return nil, errInvalidSizeLimit
	}
	if cfg.Layout.NotesPrefix() == "" {
		return nil, errMissingLayout
	}
	defaultYear := cfg.DefaultYear
	if defaultYear == 0 {
		defaultYear = defaultNoteYear
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Uploader{
		store:       cfg.Store,
		objects:     cfg.Objects,
		layout:      cfg.Layout,
		renderer:    cfg.Renderer,
		maxSize:     cfg.MaxFileSizeBytes,
		defaultYear: defaultYear,
		scratchDir:  cfg.ScratchDir,
		logger:      logger,
	}, nil
}

// Upload validates the request and rasterises the preview, then inserts the note,
// writes the PDF and preview, flags the preview, and commits. The preview renders
// before the transaction opens so a slow renderer never holds a database connection.
// Object writes are compensated when a later step fails. The returned view carries
// zero counters and the derived file URLs.
func (u *Uploader) Upload(ctx context.Context, request UploadRequest) (NoteView, error) {
	fields, content, err := u.validate(request)
	if err != nil {
		return NoteView{}, err
	}

	image := u.previewImage(ctx, fields.CourseCode, content)

	tx, err := u.store.BeginUpload(ctx)
	if err != nil {
		return NoteView{}, asDatabaseError(opUpload, "begin_failed", err)
	}

	note, err := tx.InsertNote(ctx, fields)
	if err != nil {
		u.rollback(tx, "")
		return NoteView{}, asDatabaseError(opUpload, "insert_failed", err)
	}

	noteKey := u.layout.NoteKey(note.ID)
	if err := u.objects.Put(ctx, noteKey, content, pdfContentType); err != nil {
		u.rollback(tx, note.ID)
		u.removeObject(noteKey, note.ID)
		u.logError(opUpload, "file_write_failed", err, zap.String("note_id", note.ID))
		return NoteView{}, newServiceError(KindUploadFailed, opUpload, "file_write_failed", "Failed to save file", err)
	}

	note.HasPreviewImage = u.attachPreview(ctx, tx, note.ID, image)

	if err := tx.Commit(); err != nil {
		u.removeObject(noteKey, note.ID)
		u.removeObject(u.layout.PreviewKey(note.ID), note.ID)
		u.logError(opUpload, "commit_failed", err, zap.String("note_id", note.ID))
		return NoteView{}, newServiceError(KindUploadFailed, opUpload, "commit_failed", "Failed to save note to database", err)
	}

	u.logger.Info("note uploaded",
		zap.String("note_id", note.ID),
		zap.String("course_code", note.CourseCode),
		zap.Bool("has_preview_image", note.HasPreviewImage))
	return newNoteView(u.layout, note, 0, 0, nil), nil
}

// previewImage renders the first page, or returns nil when rendering is disabled or fails.
func (u *Uploader) previewImage(ctx context.Context, courseCode string, content []byte) []byte {
	image, err := u.renderPreview(ctx, content)
	switch {
	case errors.Is(err, preview.ErrDisabled):
		u.logger.Debug("preview rendering disabled", zap.String("course_code", courseCode))
		return nil
	case err != nil:
		u.logger.Warn("preview rendering failed", zap.String("course_code", courseCode), zap.Error(err))
		return nil
	}
	return image
}

// attachPreview stores and flags a rendered preview. Failures are logged and
// reported as false; the preview object never outlives a failed flag update.
func (u *Uploader) attachPreview(ctx context.Context, tx UploadTx, noteID string, image []byte) bool {
	if image == nil {
		return false
	}

	previewKey := u.layout.PreviewKey(noteID)
	if err := u.objects.Put(ctx, previewKey, image, jpegContentType); err != nil {
		u.logger.Warn("preview write failed", zap.String("note_id", noteID), zap.Error(err))
		u.removeObject(previewKey, noteID)
		return false
	}

	if err := tx.SetPreviewFlag(ctx, noteID, true); err != nil {
		u.logger.Warn("preview flag update failed", zap.String("note_id", noteID), zap.Error(err))
		u.removeObject(previewKey, noteID)
		return false
	}
	return true
}

func (u *Uploader) renderPreview(ctx context.Context, content []byte) ([]byte, error) {
	scratch, err := os.MkdirTemp(u.scratchDir, "campusnotes-preview-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	sourcePath := filepath.Join(scratch, "source.pdf")
	if err := os.WriteFile(sourcePath, content, 0o600); err != nil {
		return nil, fmt.Errorf("write scratch pdf: %w", err)
	}
	destination := filepath.Join(scratch, "preview")
	if err := u.renderer.Render(ctx, sourcePath, destination); err != nil {
		return nil, err
	}
	image, err := os.ReadFile(destination + preview.OutputExtension)
	if err != nil {
		return nil, fmt.Errorf("read rendered preview: %w", err)
	}
	if len(image) == 0 {
		return nil, errors.New("rendered preview is empty")
	}
	return image, nil
}

func (u *Uploader) validate(request UploadRequest) (NewNote, []byte, error) {
	metadata := request.Metadata
	courseName := strings.TrimSpace(metadata.CourseName)
	courseCode := strings.TrimSpace(metadata.CourseCode)
	semester := parseSemester(metadata.Semester)
	year := u.defaultYear
	if metadata.Year != nil {
		year = *metadata.Year
	}

	checks := []struct {
		value interface{}
		rules []validation.Rule
	}{
		{courseName, []validation.Rule{validation.Required.Error("Course name is required")}},
		{courseCode, []validation.Rule{validation.Required.Error("Course code is required")}},
		{semester, []validation.Rule{validation.In(SemesterAutumn, SemesterSpring).
			Error("Semester is required and must be one of: Autumn, Spring")}},
		{year, []validation.Rule{
			validation.Required.Error("Invalid year"),
			validation.Min(minNoteYear).Error("Invalid year"),
			validation.Max(maxNoteYear).Error("Invalid year"),
		}},
	}
	for _, check := range checks {
		if err := validation.Validate(check.value, check.rules...); err != nil {
			return NewNote{}, nil, invalidData(err)
		}
	}

	if request.File == nil || len(request.File.Content) == 0 {
		return NewNote{}, nil, newServiceError(KindInvalidData, opValidate, "invalid", "File not provided", nil)
	}
	contentType := strings.TrimSpace(request.File.ContentType)
	if err := validation.Validate(contentType,
		validation.Required.Error("Content-type header not found. File type could not be determined"),
		validation.In(pdfContentType).Error("Only PDF files are supported"),
	); err != nil {
		return NewNote{}, nil, invalidData(err)
	}
	if int64(len(request.File.Content)) > u.maxSize {
		message := fmt.Sprintf("File size too big. Only files up to %d MiB are allowed.", u.maxSize>>20)
		return NewNote{}, nil, newServiceError(KindInvalidData, opValidate, "invalid", message, nil)
	}

	var description *string
	if trimmed := strings.TrimSpace(metadata.Description); trimmed != "" {
		description = &trimmed
	}
	professors := compactStrings(metadata.ProfessorNames)
	if len(professors) == 0 {
		professors = nil
	}

	return NewNote{
		CourseName:     courseName,
		CourseCode:     courseCode,
		Description:    description,
		ProfessorNames: professors,
		Tags:           compactStrings(metadata.Tags),
		UploaderUserID: request.UploaderID,
		Year:           year,
		Semester:       semester,
	}, request.File.Content, nil
}

func invalidData(err error) error {
	return newServiceError(KindInvalidData, opValidate, "invalid", err.Error(), nil)
}

// compactStrings trims entries and drops empty ones, always returning a non-nil slice.
func compactStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func asDatabaseError(operation, reason string, err error) error {
	if _, ok := AsServiceError(err); ok {
		return err
	}
	return newServiceError(KindDatabase, operation, reason, "Failed to create note", err)
}

func (u *Uploader) rollback(tx UploadTx, noteID string) {
	if err := tx.Rollback(); err != nil {
		u.logError(opUpload, "rollback_failed", err, zap.String("note_id", noteID))
	}
}

// removeObject is a compensating delete; it runs detached from the request context.
func (u *Uploader) removeObject(key, noteID string) {
	if err := u.objects.Delete(context.Background(), key); err != nil {
		u.logError(opUpload, "compensating_delete_failed", err,
			zap.String("note_id", noteID),
			zap.String("key", key))
	}
}

func (u *Uploader) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	u.logger.Error("note upload error", attrs...)
}
