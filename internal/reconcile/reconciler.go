// Package reconcile removes stored objects that no committed note accounts for.
//
// Uploads write the PDF before their transaction commits, so a crash in between
// leaves an object with no row. Previews can likewise outlive a failed flag
// update. The sweep compares object keys against note rows and deletes the
// strays once they are older than a grace period, which keeps in-flight
// uploads untouched.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/objectstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const lookupChunkSize = 500

var (
	errMissingDatabase = errors.New("reconcile: database connection required")
	errMissingObjects  = errors.New("reconcile: object store required")
)

// Config describes the reconciler's collaborators.
type Config struct {
	Database *gorm.DB
	Objects  objectstore.Store
	Layout   objectstore.Layout
	Grace    time.Duration
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Report summarises one sweep.
type Report struct {
	Scanned int
	Deleted int
	Failed  int
}

// Reconciler deletes orphaned note files and stale previews.
type Reconciler struct {
	db      *gorm.DB
	objects objectstore.Store
	layout  objectstore.Layout
	grace   time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

type candidate struct {
	key       string
	noteID    string
	isPreview bool
}

type noteState struct {
	ID              string
	HasPreviewImage bool
}

// NewReconciler validates the configuration and constructs a Reconciler.
func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Objects == nil {
		return nil, errMissingObjects
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		db:      cfg.Database,
		objects: cfg.Objects,
		layout:  cfg.Layout,
		grace:   cfg.Grace,
		now:     clock,
		logger:  logger,
	}, nil
}

// Run sweeps immediately and then on every interval until ctx is cancelled.
// A non-positive interval disables the loop.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		r.logger.Info("object reconciliation disabled")
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r.sweepAndLog(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Reconciler) sweepAndLog(ctx context.Context) {
	report, err := r.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("object reconciliation failed", zap.Error(err))
		}
		return
	}
	fields := []zap.Field{
		zap.Int("scanned", report.Scanned),
		zap.Int("deleted", report.Deleted),
		zap.Int("failed", report.Failed),
	}
	if report.Deleted > 0 || report.Failed > 0 {
		r.logger.Info("object reconciliation completed", fields...)
		return
	}
	r.logger.Debug("object reconciliation completed", fields...)
}

// Sweep performs one reconciliation pass.
func (r *Reconciler) Sweep(ctx context.Context) (Report, error) {
	var report Report
	cutoff := r.now().Add(-r.grace)

	var candidates []candidate
	for _, prefix := range []string{r.layout.NotesPrefix(), r.layout.PreviewsPrefix()} {
		objects, err := r.objects.List(ctx, prefix)
		if err != nil {
			return report, err
		}
		for _, object := range objects {
			report.Scanned++
			if object.ModifiedAt.After(cutoff) {
				continue
			}
			noteID, isPreview, ok := r.layout.ParseKey(object.Key)
			if !ok {
				continue
			}
			candidates = append(candidates, candidate{key: object.Key, noteID: noteID, isPreview: isPreview})
		}
	}
	if len(candidates) == 0 {
		return report, nil
	}

	states, err := r.lookupNotes(ctx, candidates)
	if err != nil {
		return report, err
	}

	for _, item := range candidates {
		hasPreview, exists := states[item.noteID]
		if exists && (!item.isPreview || hasPreview) {
			continue
		}
		if err := r.objects.Delete(ctx, item.key); err != nil {
			report.Failed++
			r.logger.Warn("orphaned object delete failed", zap.String("key", item.key), zap.Error(err))
			continue
		}
		report.Deleted++
		r.logger.Debug("orphaned object deleted", zap.String("key", item.key), zap.Bool("note_exists", exists))
	}
	return report, nil
}

// lookupNotes maps each existing note id to its preview flag.
func (r *Reconciler) lookupNotes(ctx context.Context, candidates []candidate) (map[string]bool, error) {
	seen := make(map[string]struct{}, len(candidates))
	noteIDs := make([]string, 0, len(candidates))
	for _, item := range candidates {
		if _, ok := seen[item.noteID]; ok {
			continue
		}
		seen[item.noteID] = struct{}{}
		noteIDs = append(noteIDs, item.noteID)
	}

	states := make(map[string]bool, len(noteIDs))
	for start := 0; start < len(noteIDs); start += lookupChunkSize {
		end := start + lookupChunkSize
		if end > len(noteIDs) {
			end = len(noteIDs)
		}
		var rows []noteState
		if err := r.db.WithContext(ctx).
			Model(&notes.Note{}).
			Select("id", "has_preview_image").
			Where("id IN ?", noteIDs[start:end]).
			Scan(&rows).Error; err != nil {
			return nil, err
		}
		for _, row := range rows {
			states[row.ID] = row.HasPreviewImage
		}
	}
	return states, nil
}
