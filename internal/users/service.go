package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/dbutil"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/ids"
	"gorm.io/gorm"
)

var (
	// ErrInvalidIdentity indicates the profile did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrConflict indicates a concurrent registration claimed the same Google account.
	ErrConflict = errors.New("users: identity already registered")
	// ErrNotFound indicates no user matched the lookup.
	ErrNotFound = errors.New("users: user not found")
)

// ServiceConfig describes the dependencies required for user management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
}

// Service creates and looks up users keyed by their Google account.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider ids.Provider
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	return &Service{
		db:         cfg.Database,
		now:        clock,
		idProvider: idProvider,
	}, nil
}

// FindOrCreate returns the user for the Google account, creating it on first sign-in.
// Non-empty profile attributes that changed since the last sign-in are refreshed.
func (s *Service) FindOrCreate(ctx context.Context, profile Profile) (User, error) {
	profile = profile.normalized()
	if profile.GoogleID == "" {
		return User{}, ErrInvalidIdentity
	}

	var user User
	err := s.db.WithContext(ctx).Where("google_id = ?", profile.GoogleID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.create(ctx, profile)
	}
	if err != nil {
		return User{}, fmt.Errorf("users: lookup by google id: %w", err)
	}

	updates := map[string]interface{}{}
	if profile.Email != "" && profile.Email != user.Email {
		updates["email"] = profile.Email
		user.Email = profile.Email
	}
	if profile.FullName != "" && profile.FullName != user.FullName {
		updates["full_name"] = profile.FullName
		user.FullName = profile.FullName
	}
	if profile.Picture != "" && profile.Picture != user.Picture {
		updates["picture"] = profile.Picture
		user.Picture = profile.Picture
	}
	if len(updates) == 0 {
		return user, nil
	}
	updatedAt := s.now().UTC()
	updates["updated_at"] = updatedAt
	if err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
		return User{}, fmt.Errorf("users: refresh profile: %w", err)
	}
	user.UpdatedAt = updatedAt
	return user, nil
}

func (s *Service) create(ctx context.Context, profile Profile) (User, error) {
	userID, err := s.idProvider.NewID()
	if err != nil {
		return User{}, fmt.Errorf("users: generate id: %w", err)
	}
	createdAt := s.now().UTC()
	user := User{
		ID:        userID,
		GoogleID:  profile.GoogleID,
		Email:     profile.Email,
		FullName:  profile.FullName,
		Picture:   profile.Picture,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if dbutil.IsUniqueViolation(err) {
			return User{}, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return User{}, fmt.Errorf("users: create: %w", err)
	}
	return user, nil
}

// FindByGoogleID returns the user registered for the Google account.
func (s *Service) FindByGoogleID(ctx context.Context, googleID string) (User, error) {
	googleID = normalize(googleID)
	if googleID == "" {
		return User{}, ErrInvalidIdentity
	}
	return s.take(ctx, "google_id = ?", googleID)
}

// GetByID returns the user with the given id.
func (s *Service) GetByID(ctx context.Context, userID string) (User, error) {
	userID = normalize(userID)
	if userID == "" {
		return User{}, ErrNotFound
	}
	return s.take(ctx, "id = ?", userID)
}

func (s *Service) take(ctx context.Context, query string, value string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where(query, value).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("users: lookup: %w", err)
	}
	return user, nil
}
