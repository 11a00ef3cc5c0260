package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/leaderboard"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/objectstore"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var testUser = users.User{
	ID:        "user-1",
	GoogleID:  "google-1",
	Email:     "ada@campus.edu",
	FullName:  "Ada Lovelace",
	CreatedAt: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
}

type stubVerifier struct {
	claims auth.GoogleClaims
	err    error
}

func (s stubVerifier) Verify(context.Context, string) (auth.GoogleClaims, error) {
	return s.claims, s.err
}

type stubBackendTokenManager struct {
	subjects    map[string]string
	validateErr error
	issued      []string
}

func (s *stubBackendTokenManager) IssueBackendToken(subject string) (string, int64, error) {
	s.issued = append(s.issued, subject)
	return "backend-token-for-" + subject, 3600, nil
}

func (s *stubBackendTokenManager) ValidateToken(token string) (string, error) {
	if s.validateErr != nil {
		return "", s.validateErr
	}
	subject, ok := s.subjects[token]
	if !ok {
		return "", errors.New("signature mismatch")
	}
	return subject, nil
}

type stubUserDirectory struct {
	byGoogleID map[string]users.User
	createErr  error
	profiles   []users.Profile
}

func (s *stubUserDirectory) FindOrCreate(_ context.Context, profile users.Profile) (users.User, error) {
	s.profiles = append(s.profiles, profile)
	if s.createErr != nil {
		return users.User{}, s.createErr
	}
	if user, ok := s.byGoogleID[profile.GoogleID]; ok {
		return user, nil
	}
	return users.User{ID: "new-user", GoogleID: profile.GoogleID, Email: profile.Email, FullName: profile.FullName}, nil
}

func (s *stubUserDirectory) FindByGoogleID(_ context.Context, googleID string) (users.User, error) {
	if user, ok := s.byGoogleID[googleID]; ok {
		return user, nil
	}
	return users.User{}, users.ErrNotFound
}

type stubNoteStore struct {
	views      []notes.NoteView
	err        error
	callers    []string
	lastLimit  int
	lastTerm   string
	vote       *notes.Vote
	lastAction string
	downloaded notes.Note
}

func (s *stubNoteStore) ListNotes(_ context.Context, limit int, callerID string) ([]notes.NoteView, error) {
	s.lastLimit = limit
	s.callers = append(s.callers, callerID)
	return s.views, s.err
}

func (s *stubNoteStore) SearchNotes(_ context.Context, term string, callerID string) ([]notes.NoteView, error) {
	s.lastTerm = term
	s.callers = append(s.callers, callerID)
	return s.views, s.err
}

func (s *stubNoteStore) GetNote(_ context.Context, _ string, callerID string) (notes.NoteView, error) {
	s.callers = append(s.callers, callerID)
	if s.err != nil {
		return notes.NoteView{}, s.err
	}
	return s.views[0], nil
}

func (s *stubNoteStore) IncrementDownloads(context.Context, string) (notes.Note, error) {
	return s.downloaded, s.err
}

func (s *stubNoteStore) Vote(_ context.Context, userID, _ string, action notes.VoteAction) (*notes.Vote, error) {
	s.callers = append(s.callers, userID)
	s.lastAction = action.String()
	return s.vote, s.err
}

type stubUploader struct {
	requests []notes.UploadRequest
	view     notes.NoteView
	err      error
}

func (s *stubUploader) Upload(_ context.Context, request notes.UploadRequest) (notes.NoteView, error) {
	s.requests = append(s.requests, request)
	return s.view, s.err
}

type stubLeaderboard struct {
	entries []leaderboard.Entry
	err     error
}

func (s stubLeaderboard) Rank(_ context.Context, limit int) ([]leaderboard.Entry, error) {
	if limit > 0 && len(s.entries) > limit {
		return s.entries[:limit], s.err
	}
	return s.entries, s.err
}

func (s stubLeaderboard) PositionOf(_ context.Context, userID string) (leaderboard.Entry, error) {
	for _, entry := range s.entries {
		if entry.UserID == userID {
			return entry, nil
		}
	}
	return leaderboard.Entry{}, leaderboard.ErrUserNotFound
}

type testServer struct {
	tokens      *stubBackendTokenManager
	users       *stubUserDirectory
	notes       *stubNoteStore
	uploader    *stubUploader
	leaderboard stubLeaderboard
	verifier    stubVerifier
	layout      objectstore.Layout
	staticRoot  string
}

func newTestServer(testContext *testing.T) *testServer {
	testContext.Helper()
	layout, err := objectstore.NewLayout("notes/uploaded", "previews/uploaded", "http://localhost:8080/static/")
	if err != nil {
		testContext.Fatalf("failed to build layout: %v", err)
	}
	return &testServer{
		tokens:   &stubBackendTokenManager{subjects: map[string]string{"valid-token": testUser.GoogleID, "orphan-token": "google-unknown"}},
		users:    &stubUserDirectory{byGoogleID: map[string]users.User{testUser.GoogleID: testUser}},
		notes:    &stubNoteStore{},
		uploader: &stubUploader{},
		layout:   layout,
	}
}

func (s *testServer) serve(testContext *testing.T, request *http.Request) *httptest.ResponseRecorder {
	testContext.Helper()
	gin.SetMode(gin.TestMode)
	handler, err := NewHTTPHandler(Dependencies{
		GoogleVerifier:   s.verifier,
		TokenManager:     s.tokens,
		Users:            s.users,
		Notes:            s.notes,
		Uploader:         s.uploader,
		Leaderboard:      s.leaderboard,
		Layout:           s.layout,
		MaxFileSizeBytes: 1 << 20,
		StaticRoot:       s.staticRoot,
		Logger:           zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func sampleView(layout objectstore.Layout, hasPreview bool) notes.NoteView {
	description := "Week 1 to 4"
	view := notes.NoteView{
		Note: notes.Note{
			ID:              "note-1",
			CourseName:      "Data Structures",
			CourseCode:      "CS101",
			Description:     &description,
			Tags:            []string{"trees"},
			IsPublic:        true,
			HasPreviewImage: hasPreview,
			UploaderUserID:  testUser.ID,
			Uploader:        testUser,
			CreatedAt:       time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC),
			Downloads:       4,
			NoteYear:        2025,
			NoteSemester:    notes.SemesterAutumn,
		},
		Upvotes:   2,
		Downvotes: 1,
		FileURL:   layout.URL(layout.NoteKey("note-1")),
	}
	if hasPreview {
		view.PreviewImageURL = layout.URL(layout.PreviewKey("note-1"))
	}
	return view
}
