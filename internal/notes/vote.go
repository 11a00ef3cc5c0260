package notes

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/dbutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const opVote = "notes.vote"

type voteActionKind int

const (
	voteActionUpvote voteActionKind = iota + 1
	voteActionRemove
)

// VoteAction is a requested transition. Only "upvote" and "remove" tokens parse;
// a downward vote is representable through NewDirectionalVote but no token reaches it.
type VoteAction struct {
	kind     voteActionKind
	isUpvote bool
}

// ParseVoteAction accepts exactly the request-level tokens "upvote" and "remove".
func ParseVoteAction(token string) (VoteAction, error) {
	switch token {
	case "upvote":
		return NewDirectionalVote(true), nil
	case "remove":
		return RemoveVote(), nil
	default:
		message := fmt.Sprintf("Incorrect vote type: %s. Available options are: upvote and remove", token)
		return VoteAction{}, newServiceError(KindBadVote, opVote, "bad_token", message, nil)
	}
}

// NewDirectionalVote sets the caller's vote to the given direction.
func NewDirectionalVote(isUpvote bool) VoteAction {
	return VoteAction{kind: voteActionUpvote, isUpvote: isUpvote}
}

// RemoveVote clears the caller's vote.
func RemoveVote() VoteAction {
	return VoteAction{kind: voteActionRemove}
}

func (a VoteAction) String() string {
	switch a.kind {
	case voteActionUpvote:
		if a.isUpvote {
			return "upvote"
		}
		return "downvote"
	case voteActionRemove:
		return "remove"
	default:
		return "invalid"
	}
}

var errVoteInsertRace = errors.New("concurrent vote insert")

// Vote applies the action to the (user, note) pair and returns the resulting vote,
// or nil when no vote remains. Remove without an existing vote is a no-op.
func (s *Store) Vote(ctx context.Context, userID, noteID string, action VoteAction) (*Vote, error) {
	if action.kind != voteActionUpvote && action.kind != voteActionRemove {
		return nil, newServiceError(KindBadVote, opVote, "bad_action", "Incorrect vote type", nil)
	}

	result, err := s.applyVote(ctx, userID, noteID, action)
	if errors.Is(err, errVoteInsertRace) {
		// The competing insert has committed; the re-read takes the update branch.
		result, err = s.applyVote(ctx, userID, noteID, action)
	}
	if err == nil {
		return result, nil
	}
	if _, ok := AsServiceError(err); ok {
		return nil, err
	}
	s.logError(opVote, "transaction_failed", err,
		zap.String("user_id", userID),
		zap.String("note_id", noteID),
		zap.String("action", action.String()))
	return nil, newServiceError(KindDatabase, opVote, "transaction_failed", "Failed to vote", err)
}

func (s *Store) applyVote(ctx context.Context, userID, noteID string, action VoteAction) (*Vote, error) {
	var result *Vote
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var noteCount int64
		if err := tx.Model(&Note{}).Where("id = ?", noteID).Count(&noteCount).Error; err != nil {
			return err
		}
		if noteCount == 0 {
			return newServiceError(KindNotFound, opVote, "note_not_found", "Note not found", nil)
		}

		var existing []Vote
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND note_id = ?", userID, noteID).
			Limit(1).
			Find(&existing).Error; err != nil {
			return err
		}

		switch {
		case len(existing) == 0 && action.kind == voteActionRemove:
			return nil
		case len(existing) == 0:
			voteID, err := s.idProvider.NewID()
			if err != nil {
				return err
			}
			vote := Vote{
				ID:        voteID,
				UserID:    userID,
				NoteID:    noteID,
				IsUpvote:  action.isUpvote,
				CreatedAt: s.clock().UTC(),
			}
			if err := tx.Create(&vote).Error; err != nil {
				if dbutil.IsUniqueViolation(err) {
					return errVoteInsertRace
				}
				return err
			}
			result = &vote
			return nil
		case action.kind == voteActionRemove:
			return tx.Where("id = ?", existing[0].ID).Delete(&Vote{}).Error
		default:
			vote := existing[0]
			if err := tx.Model(&Vote{}).Where("id = ?", vote.ID).Update("is_upvote", action.isUpvote).Error; err != nil {
				return err
			}
			vote.IsUpvote = action.isUpvote
			result = &vote
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
