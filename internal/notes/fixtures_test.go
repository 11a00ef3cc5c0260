package notes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/objectstore"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/preview"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testPDFContent = "%PDF-1.4\n"

type sequenceIDs struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("%s-%03d", s.prefix, s.next), nil
}

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

type testEnv struct {
	db      *gorm.DB
	store   *Store
	objects *objectstore.FileSystem
	layout  objectstore.Layout
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "notes.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&users.User{}, &Note{}, &Vote{}))

	layout, err := objectstore.NewLayout("notes/uploaded", "previews/uploaded", "http://localhost:8080/static/")
	require.NoError(t, err)
	objects, err := objectstore.NewFileSystem(filepath.Join(t.TempDir(), "static"))
	require.NoError(t, err)

	clock := &steppingClock{current: time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)}
	store, err := NewStore(StoreConfig{
		Database:   db,
		Layout:     &layout,
		Clock:      clock.Now,
		IDProvider: &sequenceIDs{prefix: "id"},
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)

	return testEnv{db: db, store: store, objects: objects, layout: layout}
}

func (e testEnv) seedUser(t *testing.T, id, name string) users.User {
	t.Helper()
	user := users.User{
		ID:        id,
		GoogleID:  "google-" + id,
		Email:     id + "@campus.edu",
		FullName:  name,
		CreatedAt: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, e.db.Create(&user).Error)
	return user
}

func (e testEnv) newUploader(t *testing.T, renderer preview.Renderer, objects objectstore.Store, logger *zap.Logger) *Uploader {
	t.Helper()
	if objects == nil {
		objects = e.objects
	}
	uploader, err := NewUploader(UploaderConfig{
		Store:            e.store,
		Objects:          objects,
		Layout:           e.layout,
		Renderer:         renderer,
		MaxFileSizeBytes: 1 << 20,
		DefaultYear:      2025,
		ScratchDir:       t.TempDir(),
		Logger:           logger,
	})
	require.NoError(t, err)
	return uploader
}

func (e testEnv) objectExists(t *testing.T, key string) bool {
	t.Helper()
	exists, err := e.objects.Exists(context.Background(), key)
	require.NoError(t, err)
	return exists
}

func (e testEnv) countNotes(t *testing.T, courseCode string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&Note{}).Where("course_code = ?", courseCode).Count(&count).Error)
	return count
}

func (e testEnv) countVotes(t *testing.T, userID, noteID string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&Vote{}).Where("user_id = ? AND note_id = ?", userID, noteID).Count(&count).Error)
	return count
}

// imageRenderer writes a fixed JPEG payload and optionally runs a hook first.
type imageRenderer struct {
	payload []byte
	before  func()
	calls   int
}

func (r *imageRenderer) Render(_ context.Context, sourcePDFPath string, destWithoutExt string) error {
	r.calls++
	if r.before != nil {
		r.before()
	}
	if _, err := os.Stat(sourcePDFPath); err != nil {
		return err
	}
	return os.WriteFile(destWithoutExt+preview.OutputExtension, r.payload, 0o600)
}

// gatedRenderer reports when rendering starts and waits for release before writing.
type gatedRenderer struct {
	started chan struct{}
	release chan struct{}
}

func (r gatedRenderer) Render(ctx context.Context, _ string, destWithoutExt string) error {
	close(r.started)
	select {
	case <-r.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return os.WriteFile(destWithoutExt+preview.OutputExtension, []byte("jpeg"), 0o600)
}

type failingRenderer struct{}

func (failingRenderer) Render(context.Context, string, string) error {
	return errors.New("pdftoppm: exit status 1")
}

// flakyObjects fails Put for keys containing failOn and records every Put and Delete.
type flakyObjects struct {
	objectstore.Store
	failOn  string
	before  func(key string)
	written []string
	deleted []string
}

func (f *flakyObjects) Put(ctx context.Context, key string, content []byte, contentType string) error {
	f.written = append(f.written, key)
	if f.before != nil {
		f.before(key)
	}
	if f.failOn != "" && strings.Contains(key, f.failOn) {
		return errors.New("disk full")
	}
	return f.Store.Put(ctx, key, content, contentType)
}

func (f *flakyObjects) Delete(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return f.Store.Delete(ctx, key)
}

func validRequest(uploaderID string) UploadRequest {
	return UploadRequest{
		Metadata: UploadMetadata{
			CourseName: "Data Structures",
			CourseCode: "CS101",
			Tags:       []string{"trees"},
			Semester:   "Autumn",
		},
		File:       &UploadFile{Content: []byte(testPDFContent), ContentType: "application/pdf"},
		UploaderID: uploaderID,
	}
}

func requireKind(t *testing.T, err error, kind Kind) *ServiceError {
	t.Helper()
	require.Error(t, err)
	serviceErr, ok := AsServiceError(err)
	require.True(t, ok, "expected *ServiceError, got %T: %v", err, err)
	require.Equal(t, kind, serviceErr.Kind(), "unexpected kind for %v", err)
	return serviceErr
}

func (e testEnv) seedNote(t *testing.T, id, courseName, courseCode, uploaderID string, createdAt time.Time) Note {
	t.Helper()
	note := Note{
		ID:             id,
		CourseName:     courseName,
		CourseCode:     courseCode,
		Tags:           []string{},
		IsPublic:       true,
		UploaderUserID: uploaderID,
		CreatedAt:      createdAt,
		NoteYear:       2025,
		NoteSemester:   SemesterAutumn,
	}
	require.NoError(t, e.db.Omit("Uploader").Create(&note).Error)
	return note
}
