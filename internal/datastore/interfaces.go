// interfaces.go defines the interface for the database operations.
package datastore

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mindtrack/mindtrack-go/internal/conf"
	"github.com/mindtrack/mindtrack-go/internal/errors"
)

// Interface abstracts the underlying database implementation.
type Interface interface {
	Open() error
	Close() error

	GetUserByExternalID(externalID string) (*User, error)
	CreateUser(user *User) error

	SaveScreenshot(img *ScreenshotImage) error
	GetScreenshotByUserAndID(userID, id uint) (*ScreenshotImage, error)
	LatestScreenshotForUser(userID uint) (*ScreenshotImage, error)

	SaveSuggestion(s *Suggestion) error
	GetSuggestionWithItems(id uint) (*Suggestion, error)
	LatestSuggestionForUser(userID uint) (*Suggestion, error)

	// EnsureNotifyTrigger installs the change-notification trigger on the
	// suggestions table where the backend supports it. Idempotent.
	EnsureNotifyTrigger() error
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB
}

// New creates a store for whichever backend the configuration enables.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Database.Postgres.Enabled:
		return &PostgresStore{Settings: settings}
	case settings.Database.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	default:
		return nil
	}
}

// GetUserByExternalID resolves the external identity string to a user row.
func (ds *DataStore) GetUserByExternalID(externalID string) (*User, error) {
	var user User
	if err := ds.DB.Where("external_id = ?", externalID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf("user %q not found", externalID).
				Component("datastore").
				Category(errors.CategoryNotFound).
				Build()
		}
		return nil, fmt.Errorf("getting user %q: %w", externalID, err)
	}
	return &user, nil
}

// CreateUser inserts a new user row.
func (ds *DataStore) CreateUser(user *User) error {
	if err := ds.DB.Create(user).Error; err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// SaveScreenshot inserts or updates a screenshot record.
func (ds *DataStore) SaveScreenshot(img *ScreenshotImage) error {
	if err := ds.DB.Save(img).Error; err != nil {
		return errors.New(fmt.Errorf("saving screenshot: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("user_id", img.UserID).
			Build()
	}
	return nil
}

// GetScreenshotByUserAndID retrieves a screenshot scoped to its owner.
func (ds *DataStore) GetScreenshotByUserAndID(userID, id uint) (*ScreenshotImage, error) {
	var img ScreenshotImage
	err := ds.DB.Where("user_id = ? AND id = ?", userID, id).First(&img).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf("screenshot %d not found for user %d", id, userID).
				Component("datastore").
				Category(errors.CategoryNotFound).
				Build()
		}
		return nil, fmt.Errorf("getting screenshot %d: %w", id, err)
	}
	return &img, nil
}

// LatestScreenshotForUser returns the most recently captured screenshot.
func (ds *DataStore) LatestScreenshotForUser(userID uint) (*ScreenshotImage, error) {
	var img ScreenshotImage
	err := ds.DB.Where("user_id = ?", userID).Order("captured_at DESC").First(&img).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf("no screenshots for user %d", userID).
				Component("datastore").
				Category(errors.CategoryNotFound).
				Build()
		}
		return nil, fmt.Errorf("getting latest screenshot: %w", err)
	}
	return &img, nil
}

// SaveSuggestion stores a suggestion and its items in one transaction and,
// on Postgres, fires the notify trigger exactly once for the insert.
func (ds *DataStore) SaveSuggestion(s *Suggestion) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if err := ds.DB.Create(s).Error; err != nil {
		return errors.New(fmt.Errorf("saving suggestion: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("user_id", s.UserID).
			Context("image_id", s.ImageID).
			Build()
	}
	return nil
}

// GetSuggestionWithItems loads a suggestion with its predicted questions.
func (ds *DataStore) GetSuggestionWithItems(id uint) (*Suggestion, error) {
	var s Suggestion
	err := ds.DB.Preload("Items").First(&s, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf("suggestion %d not found", id).
				Component("datastore").
				Category(errors.CategoryNotFound).
				Build()
		}
		return nil, fmt.Errorf("getting suggestion %d: %w", id, err)
	}
	return &s, nil
}

// LatestSuggestionForUser loads the newest suggestion for a user.
func (ds *DataStore) LatestSuggestionForUser(userID uint) (*Suggestion, error) {
	var s Suggestion
	err := ds.DB.Preload("Items").Where("user_id = ?", userID).
		Order("created_at DESC").First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf("no suggestions for user %d", userID).
				Component("datastore").
				Category(errors.CategoryNotFound).
				Build()
		}
		return nil, fmt.Errorf("getting latest suggestion: %w", err)
	}
	return &s, nil
}

// performAutoMigration runs gorm automigration for all model tables.
func performAutoMigration(db *gorm.DB) error {
	if err := db.AutoMigrate(&User{}, &ScreenshotImage{}, &Suggestion{}, &SuggestionItem{}); err != nil {
		return fmt.Errorf("performing auto migration: %w", err)
	}
	return nil
}
