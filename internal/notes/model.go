package notes

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/users"
)

// Semester enumerates the academic terms a note can belong to.
type Semester string

const (
	SemesterAutumn Semester = "Autumn"
	SemesterSpring Semester = "Spring"
)

// Note is an uploaded PDF and its course metadata. The PDF and preview objects
// are addressed by ID; HasPreviewImage is the only record of a preview existing.
type Note struct {
	ID              string     `gorm:"column:id;primaryKey;size:64"`
	CourseName      string     `gorm:"column:course_name;size:255;not null"`
	CourseCode      string     `gorm:"column:course_code;size:64;not null;index:idx_notes_course_code"`
	Description     *string    `gorm:"column:description;type:text"`
	ProfessorNames  []string   `gorm:"column:professor_names;type:text;serializer:json"`
	Tags            []string   `gorm:"column:tags;type:text;not null;serializer:json"`
	IsPublic        bool       `gorm:"column:is_public;not null;default:true"`
	HasPreviewImage bool       `gorm:"column:has_preview_image;not null;default:false"`
	UploaderUserID  string     `gorm:"column:uploader_user_id;size:64;not null;index:idx_notes_uploader"`
	Uploader        users.User `gorm:"foreignKey:UploaderUserID;references:ID"`
	CreatedAt       time.Time  `gorm:"column:created_at;not null;index:idx_notes_created_at"`
	Downloads       int64      `gorm:"column:downloads;not null;default:0"`
	NoteYear        int        `gorm:"column:note_year;not null"`
	NoteSemester    Semester   `gorm:"column:note_semester;size:16;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// Vote is one user's judgment on one note. At most one row exists per (user, note).
type Vote struct {
	ID        string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	UserID    string    `gorm:"column:user_id;size:64;not null;uniqueIndex:idx_votes_user_note,priority:1" json:"user_id"`
	NoteID    string    `gorm:"column:note_id;size:64;not null;uniqueIndex:idx_votes_user_note,priority:2;index:idx_votes_note" json:"note_id"`
	IsUpvote  bool      `gorm:"column:is_upvote;not null" json:"is_upvote"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Vote) TableName() string {
	return "votes"
}

// NewNote carries validated fields for an insert.
type NewNote struct {
	CourseName     string
	CourseCode     string
	Description    *string
	ProfessorNames []string
	Tags           []string
	UploaderUserID string
	Year           int
	Semester       Semester
}

// NoteView is a note with its derived counters and the caller's vote.
// Counters are recomputed on every read and never stored.
type NoteView struct {
	Note
	Upvotes         int64
	Downvotes       int64
	UserVote        *bool
	FileURL         string
	PreviewImageURL string
}

func parseSemester(raw string) Semester {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return SemesterAutumn
	}
	return Semester(trimmed)
}

func (s Semester) String() string {
	return string(s)
}
