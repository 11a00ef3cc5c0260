package leaderboard

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	created time.Time
	votes   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "leaderboard.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&users.User{}, &notes.Note{}, &notes.Vote{}))
	return &fixture{db: db, created: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fixture) user(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.db.Create(&users.User{
		ID:        id,
		GoogleID:  "google-" + id,
		Email:     id + "@campus.edu",
		FullName:  "Name " + id,
		CreatedAt: f.created,
		UpdatedAt: f.created,
	}).Error)
}

func (f *fixture) note(t *testing.T, id, uploaderID string, downloads int64) {
	t.Helper()
	f.created = f.created.Add(time.Minute)
	require.NoError(t, f.db.Omit("Uploader").Create(&notes.Note{
		ID:             id,
		CourseName:     "Course",
		CourseCode:     "C-" + id,
		Tags:           []string{},
		IsPublic:       true,
		UploaderUserID: uploaderID,
		CreatedAt:      f.created,
		Downloads:      downloads,
		NoteYear:       2025,
		NoteSemester:   notes.SemesterAutumn,
	}).Error)
}

func (f *fixture) vote(t *testing.T, userID, noteID string, isUpvote bool) {
	t.Helper()
	f.votes++
	require.NoError(t, f.db.Create(&notes.Vote{
		ID:        fmt.Sprintf("vote-%d", f.votes),
		UserID:    userID,
		NoteID:    noteID,
		IsUpvote:  isUpvote,
		CreatedAt: f.created,
	}).Error)
}

// seedPopulation builds five users:
// alice has 2 notes, 3 upvotes, 1 downvote, 6 downloads;
// bob has 1 note with 1 upvote; erin has 1 note with 10 downloads and no votes;
// carol and dave have no notes.
func seedPopulation(t *testing.T) *fixture {
	f := newFixture(t)
	for _, id := range []string{"alice", "bob", "carol", "dave", "erin"} {
		f.user(t, id)
	}
	f.note(t, "alice-1", "alice", 5)
	f.note(t, "alice-2", "alice", 1)
	f.note(t, "bob-1", "bob", 0)
	f.note(t, "erin-1", "erin", 10)

	f.vote(t, "bob", "alice-1", true)
	f.vote(t, "carol", "alice-1", true)
	f.vote(t, "bob", "alice-2", true)
	f.vote(t, "carol", "alice-2", false)
	f.vote(t, "alice", "bob-1", true)
	return f
}

func TestRankOrdersByReputationWithDenseRanks(t *testing.T) {
	f := seedPopulation(t)
	ranker, err := NewRanker(f.db)
	require.NoError(t, err)

	entries, err := ranker.Rank(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	type standing struct {
		userID     string
		notes      int64
		upvotes    int64
		downloads  int64
		reputation float64
		rank       int64
	}
	expected := []standing{
		{userID: "alice", notes: 2, upvotes: 3, downloads: 6, reputation: 16.5, rank: 1},
		{userID: "bob", notes: 1, upvotes: 1, downloads: 0, reputation: 2, rank: 2},
		{userID: "erin", notes: 1, upvotes: 0, downloads: 10, reputation: 0, rank: 3},
		{userID: "carol", notes: 0, upvotes: 0, downloads: 0, reputation: 0, rank: 4},
		{userID: "dave", notes: 0, upvotes: 0, downloads: 0, reputation: 0, rank: 4},
	}
	for index, want := range expected {
		got := entries[index]
		assert.Equal(t, want.userID, got.UserID, "position %d", index)
		assert.Equal(t, want.notes, got.TotalNotes, want.userID)
		assert.Equal(t, want.upvotes, got.TotalUpvotes, want.userID)
		assert.Equal(t, want.downloads, got.TotalDownloads, want.userID)
		assert.InDelta(t, want.reputation, got.Reputation, 1e-9, want.userID)
		assert.Equal(t, want.rank, got.Rank, want.userID)
	}
	assert.Equal(t, "Name alice", entries[0].FullName)
	assert.Equal(t, "alice@campus.edu", entries[0].Email)
}

func TestRankIsDeterministic(t *testing.T) {
	f := seedPopulation(t)
	ranker, err := NewRanker(f.db)
	require.NoError(t, err)

	first, err := ranker.Rank(context.Background(), 10)
	require.NoError(t, err)
	second, err := ranker.Rank(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRankHonoursLimit(t *testing.T) {
	f := seedPopulation(t)
	ranker, err := NewRanker(f.db)
	require.NoError(t, err)

	entries, err := ranker.Rank(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "alice", entries[0].UserID)
	assert.Equal(t, "bob", entries[1].UserID)
}

func TestPositionOfMatchesUnlimitedRank(t *testing.T) {
	f := seedPopulation(t)
	ranker, err := NewRanker(f.db)
	require.NoError(t, err)

	all, err := ranker.Rank(context.Background(), 100)
	require.NoError(t, err)
	for _, entry := range all {
		position, err := ranker.PositionOf(context.Background(), entry.UserID)
		require.NoError(t, err)
		assert.Equal(t, entry, position)
	}

	_, err = ranker.PositionOf(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRankWithNoNotesAtAll(t *testing.T) {
	f := newFixture(t)
	f.user(t, "solo")
	ranker, err := NewRanker(f.db)
	require.NoError(t, err)

	entries, err := ranker.Rank(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 0.0, entries[0].Reputation)
	assert.Equal(t, int64(1), entries[0].Rank)
	assert.Equal(t, int64(0), entries[0].TotalDownloads)
}

func TestReputation(t *testing.T) {
	assert.Equal(t, 0.0, Reputation(0, 5, 100))
	assert.Equal(t, 0.0, Reputation(3, 0, 7))
	assert.InDelta(t, 16.5, Reputation(2, 3, 6), 1e-9)
	assert.InDelta(t, 3.0, Reputation(3, 1, 5), 1e-9)
}

func TestNewRankerRequiresDatabase(t *testing.T) {
	_, err := NewRanker(nil)
	assert.Error(t, err)
}
