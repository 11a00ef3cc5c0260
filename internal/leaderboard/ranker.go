package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"
)

const defaultLimit = 20

var (
	// ErrUserNotFound indicates the requested user has no leaderboard entry.
	ErrUserNotFound = errors.New("leaderboard: user not found")
)

// Entry is one user's standing. Reputation is derived on every call and never stored.
type Entry struct {
	UserID         string  `json:"user_id"`
	FullName       string  `json:"full_name"`
	Email          string  `json:"email"`
	Picture        string  `json:"picture"`
	TotalNotes     int64   `json:"total_notes"`
	TotalUpvotes   int64   `json:"total_upvotes"`
	TotalDownloads int64   `json:"total_downloads"`
	Reputation     float64 `json:"reputation"`
	Rank           int64   `json:"rank"`
}

// Ranker computes the reputation leaderboard from notes, votes, and downloads.
type Ranker struct {
	db *gorm.DB
}

// NewRanker constructs a Ranker over the given database.
func NewRanker(db *gorm.DB) (*Ranker, error) {
	if db == nil {
		return nil, fmt.Errorf("leaderboard: database connection required")
	}
	return &Ranker{db: db}, nil
}

// totalsQuery yields one row per user. Downloads come from a correlated
// subquery because the vote join would otherwise multiply them.
const totalsQuery = `
SELECT
	u.id AS user_id,
	u.full_name AS full_name,
	u.email AS email,
	u.picture AS picture,
	COUNT(DISTINCT n.id) AS total_notes,
	COUNT(DISTINCT CASE WHEN v.is_upvote = ? THEN v.id END) AS total_upvotes,
	CAST(COALESCE((SELECT SUM(d.downloads) FROM notes d WHERE d.uploader_user_id = u.id), 0) AS BIGINT) AS total_downloads
FROM users u
LEFT JOIN notes n ON n.uploader_user_id = u.id
LEFT JOIN votes v ON v.note_id = n.id
GROUP BY u.id, u.full_name, u.email, u.picture`

// Rank returns the top entries. A non-positive limit selects the default of 20.
func (r *Ranker) Rank(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	entries, err := r.rankAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// PositionOf returns the user's entry with the rank it holds among all users.
func (r *Ranker) PositionOf(ctx context.Context, userID string) (Entry, error) {
	entries, err := r.rankAll(ctx)
	if err != nil {
		return Entry{}, err
	}
	for _, entry := range entries {
		if entry.UserID == userID {
			return entry, nil
		}
	}
	return Entry{}, ErrUserNotFound
}

func (r *Ranker) rankAll(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	if err := r.db.WithContext(ctx).Raw(totalsQuery, true).Scan(&entries).Error; err != nil {
		return nil, fmt.Errorf("leaderboard: aggregate totals: %w", err)
	}
	for index := range entries {
		entries[index].Reputation = Reputation(entries[index].TotalNotes, entries[index].TotalUpvotes, entries[index].TotalDownloads)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		left, right := entries[i], entries[j]
		if left.Reputation != right.Reputation {
			return left.Reputation > right.Reputation
		}
		if left.TotalNotes != right.TotalNotes {
			return left.TotalNotes > right.TotalNotes
		}
		return left.UserID < right.UserID
	})
	assignDenseRanks(entries)
	return entries, nil
}

// Reputation is (upvotes / notes) * (notes + upvotes + downloads), or 0 without notes.
func Reputation(notes, upvotes, downloads int64) float64 {
	if notes <= 0 {
		return 0
	}
	return (float64(upvotes) / float64(notes)) * float64(notes+upvotes+downloads)
}

// assignDenseRanks expects entries sorted; equal (reputation, notes) pairs share a rank.
func assignDenseRanks(entries []Entry) {
	var rank int64
	for index := range entries {
		if index == 0 ||
			entries[index].Reputation != entries[index-1].Reputation ||
			entries[index].TotalNotes != entries[index-1].TotalNotes {
			rank++
		}
		entries[index].Rank = rank
	}
}
