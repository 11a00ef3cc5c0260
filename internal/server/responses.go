package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Picture   string    `json:"picture"`
	CreatedAt time.Time `json:"created_at"`
}

type noteResponse struct {
	ID              string       `json:"id"`
	CourseName      string       `json:"course_name"`
	CourseCode      string       `json:"course_code"`
	Description     *string      `json:"description"`
	ProfessorNames  []string     `json:"professor_names"`
	Tags            []string     `json:"tags"`
	IsPublic        bool         `json:"is_public"`
	HasPreviewImage bool         `json:"has_preview_image"`
	PreviewImageURL *string      `json:"preview_image_url"`
	FileURL         string       `json:"file_url"`
	UploaderUser    userResponse `json:"uploader_user"`
	CreatedAt       time.Time    `json:"created_at"`
	Upvotes         int64        `json:"upvotes"`
	Downvotes       int64        `json:"downvotes"`
	UserVote        *bool        `json:"user_vote"`
	Downloads       int64        `json:"downloads"`
	Year            int          `json:"year"`
	Semester        string       `json:"semester"`
}

func newUserResponse(user users.User) userResponse {
	return userResponse{
		ID:        user.ID,
		Email:     user.Email,
		FullName:  user.FullName,
		Picture:   user.Picture,
		CreatedAt: user.CreatedAt,
	}
}

func newNoteResponse(view notes.NoteView) noteResponse {
	tags := view.Tags
	if tags == nil {
		tags = []string{}
	}
	var previewURL *string
	if view.HasPreviewImage && view.PreviewImageURL != "" {
		url := view.PreviewImageURL
		previewURL = &url
	}
	return noteResponse{
		ID:              view.ID,
		CourseName:      view.CourseName,
		CourseCode:      view.CourseCode,
		Description:     view.Description,
		ProfessorNames:  view.ProfessorNames,
		Tags:            tags,
		IsPublic:        view.IsPublic,
		HasPreviewImage: view.HasPreviewImage,
		PreviewImageURL: previewURL,
		FileURL:         view.FileURL,
		UploaderUser:    newUserResponse(view.Uploader),
		CreatedAt:       view.CreatedAt,
		Upvotes:         view.Upvotes,
		Downvotes:       view.Downvotes,
		UserVote:        view.UserVote,
		Downloads:       view.Downloads,
		Year:            view.NoteYear,
		Semester:        view.NoteSemester.String(),
	}
}

func newNoteResponses(views []notes.NoteView) []noteResponse {
	out := make([]noteResponse, 0, len(views))
	for _, view := range views {
		out = append(out, newNoteResponse(view))
	}
	return out
}

func statusForKind(kind notes.Kind) int {
	switch kind {
	case notes.KindInvalidData, notes.KindBadVote:
		return http.StatusBadRequest
	case notes.KindNotFound:
		return http.StatusNotFound
	case notes.KindUploadFailed, notes.KindDatabase:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// respondNoteError writes the status and client message for a notes failure.
func (h *httpHandler) respondNoteError(c *gin.Context, err error) {
	serviceErr, ok := notes.AsServiceError(err)
	if !ok {
		h.logger.Error("unexpected note failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	status := statusForKind(serviceErr.Kind())
	if status >= http.StatusInternalServerError {
		h.logger.Error("note request failed",
			zap.String("code", serviceErr.Code()),
			zap.Error(errors.Unwrap(serviceErr)))
	}
	c.JSON(status, gin.H{"error": serviceErr.Message()})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}
