package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/notes"
	"github.com/gin-gonic/gin"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
)

const (
	formFieldCourseName     = "course_name"
	formFieldCourseCode     = "course_code"
	formFieldDescription    = "description"
	formFieldProfessorNames = "professor_names"
	formFieldTags           = "tags"
	formFieldYear           = "year"
	formFieldSemester       = "semester"
	formFieldFile           = "file"
)

const invalidYearMessage = "Invalid year"

var errInvalidYear = errors.New(invalidYearMessage)

func (h *httpHandler) handleUpload(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": missingAuthorizationMessage})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, "Invalid multipart form")
		return
	}

	metadata, err := parseUploadMetadata(form)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	file, err := h.readUploadFile(form)
	if err != nil {
		h.logger.Warn("failed to read uploaded file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read file bytes"})
		return
	}

	h.logger.Debug("upload request received",
		zap.String("user_id", user.ID),
		zap.Int64("max_file_size_bytes", h.maxFileSize))

	view, err := h.uploader.Upload(c.Request.Context(), notes.UploadRequest{
		Metadata:   metadata,
		File:       file,
		UploaderID: user.ID,
	})
	if err != nil {
		h.respondNoteError(c, err)
		return
	}
	view.Uploader = *user
	c.JSON(http.StatusCreated, newNoteResponse(view))
}

func parseUploadMetadata(form *multipart.Form) (notes.UploadMetadata, error) {
	metadata := notes.UploadMetadata{
		CourseName:     formValue(form, formFieldCourseName),
		CourseCode:     formValue(form, formFieldCourseCode),
		Description:    formValue(form, formFieldDescription),
		ProfessorNames: splitCommaList(formValue(form, formFieldProfessorNames)),
		Tags:           splitCommaList(formValue(form, formFieldTags)),
		Semester:       formValue(form, formFieldSemester),
	}
	if rawYear := strings.TrimSpace(formValue(form, formFieldYear)); rawYear != "" {
		year, err := strconv.Atoi(rawYear)
		if err != nil || year < 0 {
			return notes.UploadMetadata{}, errInvalidYear
		}
		metadata.Year = &year
	}
	return metadata, nil
}

// readUploadFile returns nil when no file part was sent. Reads stop one byte past
// the size ceiling so oversized uploads are detected without buffering them whole.
func (h *httpHandler) readUploadFile(form *multipart.Form) (*notes.UploadFile, error) {
	headers := form.File[formFieldFile]
	if len(headers) == 0 {
		return nil, nil
	}
	header := headers[0]
	source, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer source.Close()

	var reader io.Reader = source
	if h.maxFileSize > 0 {
		reader = io.LimitReader(source, h.maxFileSize+1)
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	return &notes.UploadFile{
		Content:     content,
		ContentType: header.Header.Get("Content-Type"),
	}, nil
}

func formValue(form *multipart.Form, key string) string {
	values := form.Value[key]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func splitCommaList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func (h *httpHandler) handleVote(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": missingAuthorizationMessage})
		return
	}
	action, err := notes.ParseVoteAction(c.Query("vote_type"))
	if err != nil {
		h.respondNoteError(c, err)
		return
	}
	vote, err := h.notes.Vote(c.Request.Context(), user.ID, c.Param("id"), action)
	if err != nil {
		h.respondNoteError(c, err)
		return
	}
	c.JSON(http.StatusOK, vote)
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("num")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			badRequest(c, "Invalid num")
			return
		}
		limit = parsed
	}
	views, err := h.notes.ListNotes(c.Request.Context(), limit, callerID(c))
	if err != nil {
		h.respondNoteError(c, err)
		return
	}
	c.JSON(http.StatusOK, newNoteResponses(views))
}

func (h *httpHandler) handleSearchNotes(c *gin.Context) {
	views, err := h.notes.SearchNotes(c.Request.Context(), c.Query("query"), callerID(c))
	if err != nil {
		h.respondNoteError(c, err)
		return
	}
	c.JSON(http.StatusOK, newNoteResponses(views))
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	view, err := h.notes.GetNote(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		h.respondNoteError(c, err)
		return
	}
	c.JSON(http.StatusOK, newNoteResponse(view))
}

type downloadResponsePayload struct {
	FileURL  string `json:"file_url"`
	Filename string `json:"filename"`
}

func (h *httpHandler) handleDownload(c *gin.Context) {
	note, err := h.notes.IncrementDownloads(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondNoteError(c, err)
		return
	}
	c.JSON(http.StatusOK, downloadResponsePayload{
		FileURL:  h.layout.URL(h.layout.NoteKey(note.ID)),
		Filename: downloadFilename(note),
	})
}

func downloadFilename(note notes.Note) string {
	base := slug.Make(note.CourseCode + " " + note.CourseName)
	if base == "" {
		base = note.ID
	}
	return base + ".pdf"
}
