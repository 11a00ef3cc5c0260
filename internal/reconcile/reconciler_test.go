package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/objectstore"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type sweepFixture struct {
	db      *gorm.DB
	objects *objectstore.FileSystem
	layout  objectstore.Layout
}

func newSweepFixture(t *testing.T) sweepFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "reconcile.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&users.User{}, &notes.Note{}, &notes.Vote{}))

	objects, err := objectstore.NewFileSystem(t.TempDir())
	require.NoError(t, err)
	layout, err := objectstore.NewLayout("notes/uploaded", "previews/uploaded", "http://localhost:8080/static/")
	require.NoError(t, err)

	fixture := sweepFixture{db: db, objects: objects, layout: layout}
	fixture.note(t, "kept", true)
	fixture.note(t, "flagless", false)
	fixture.put(t, layout.NoteKey("kept"))
	fixture.put(t, layout.PreviewKey("kept"))
	fixture.put(t, layout.NoteKey("flagless"))
	fixture.put(t, layout.PreviewKey("flagless"))
	fixture.put(t, layout.NoteKey("ghost"))
	fixture.put(t, layout.PreviewKey("ghost"))
	fixture.put(t, "notes/uploaded/readme.txt")
	return fixture
}

func (f sweepFixture) note(t *testing.T, id string, hasPreview bool) {
	t.Helper()
	require.NoError(t, f.db.Omit("Uploader").Create(&notes.Note{
		ID:              id,
		CourseName:      "Course",
		CourseCode:      "C1",
		Tags:            []string{},
		IsPublic:        true,
		HasPreviewImage: hasPreview,
		UploaderUserID:  "user-a",
		CreatedAt:       time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		NoteYear:        2025,
		NoteSemester:    notes.SemesterAutumn,
	}).Error)
}

func (f sweepFixture) put(t *testing.T, key string) {
	t.Helper()
	require.NoError(t, f.objects.Put(context.Background(), key, []byte("payload"), "application/octet-stream"))
}

func (f sweepFixture) exists(t *testing.T, key string) bool {
	t.Helper()
	exists, err := f.objects.Exists(context.Background(), key)
	require.NoError(t, err)
	return exists
}

func (f sweepFixture) reconciler(t *testing.T, objects objectstore.Store, clock func() time.Time, logger *zap.Logger) *Reconciler {
	t.Helper()
	if objects == nil {
		objects = f.objects
	}
	reconciler, err := NewReconciler(Config{
		Database: f.db,
		Objects:  objects,
		Layout:   f.layout,
		Grace:    30 * time.Minute,
		Clock:    clock,
		Logger:   logger,
	})
	require.NoError(t, err)
	return reconciler
}

func inTwoHours() time.Time {
	return time.Now().Add(2 * time.Hour)
}

func TestSweepDeletesOrphansAndStalePreviews(t *testing.T) {
	fixture := newSweepFixture(t)
	reconciler := fixture.reconciler(t, nil, inTwoHours, nil)

	report, err := reconciler.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 7, Deleted: 3, Failed: 0}, report)

	assert.True(t, fixture.exists(t, fixture.layout.NoteKey("kept")))
	assert.True(t, fixture.exists(t, fixture.layout.PreviewKey("kept")))
	assert.True(t, fixture.exists(t, fixture.layout.NoteKey("flagless")))
	assert.False(t, fixture.exists(t, fixture.layout.PreviewKey("flagless")))
	assert.False(t, fixture.exists(t, fixture.layout.NoteKey("ghost")))
	assert.False(t, fixture.exists(t, fixture.layout.PreviewKey("ghost")))
	assert.True(t, fixture.exists(t, "notes/uploaded/readme.txt"))

	second, err := reconciler.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Deleted)
}

func TestSweepSparesObjectsWithinGracePeriod(t *testing.T) {
	fixture := newSweepFixture(t)
	reconciler := fixture.reconciler(t, nil, time.Now, nil)

	report, err := reconciler.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, report.Scanned)
	assert.Equal(t, 0, report.Deleted)
	assert.True(t, fixture.exists(t, fixture.layout.NoteKey("ghost")))
}

type refusingDeletes struct {
	objectstore.Store
}

func (refusingDeletes) Delete(context.Context, string) error {
	return errors.New("permission denied")
}

func TestSweepCountsFailedDeletes(t *testing.T) {
	fixture := newSweepFixture(t)
	core, recorded := observer.New(zapcore.WarnLevel)
	reconciler := fixture.reconciler(t, refusingDeletes{Store: fixture.objects}, inTwoHours, zap.New(core))

	report, err := reconciler.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Deleted)
	assert.Equal(t, 3, report.Failed)
	assert.Equal(t, 3, recorded.FilterMessage("orphaned object delete failed").Len())
	assert.True(t, fixture.exists(t, fixture.layout.NoteKey("ghost")))
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	fixture := newSweepFixture(t)
	reconciler := fixture.reconciler(t, nil, inTwoHours, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, reconciler.Run(ctx, 10*time.Millisecond))
	assert.False(t, fixture.exists(t, fixture.layout.NoteKey("ghost")))
}

func TestRunDisabledReturnsImmediately(t *testing.T) {
	fixture := newSweepFixture(t)
	reconciler := fixture.reconciler(t, nil, inTwoHours, nil)

	require.NoError(t, reconciler.Run(context.Background(), 0))
	assert.True(t, fixture.exists(t, fixture.layout.NoteKey("ghost")))
}

func TestNewReconcilerRequiresDependencies(t *testing.T) {
	_, err := NewReconciler(Config{})
	assert.ErrorIs(t, err, errMissingDatabase)

	fixture := newSweepFixture(t)
	_, err = NewReconciler(Config{Database: fixture.db})
	assert.ErrorIs(t, err, errMissingObjects)
}
