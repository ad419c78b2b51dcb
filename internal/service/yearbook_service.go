package service

import (
	"errors"
	"strings"

	"github.com/yearbookpress/internal/db"
	"gorm.io/gorm"
)

var (
	ErrYearbookNotFound     = errors.New("yearbook not found")
	ErrYearbookTitleMissing = errors.New("yearbook title is required")
	ErrOrientationInvalid   = errors.New("orientation is invalid")
	ErrUploadTypeInvalid    = errors.New("upload type is invalid")
	ErrUploadTypeLocked     = errors.New("upload type cannot change once pages exist")
)

// YearbookService wraps yearbook lifecycle operations: creation at checkout
// time and the setup wizard that fixes orientation and upload mode.
type YearbookService struct {
	db *gorm.DB
}

// YearbookInput represents fields accepted when creating a yearbook.
type YearbookInput struct {
	SchoolID uint
	Year     int
	Title    string
}

// SetupInput carries the setup wizard selections.
type SetupInput struct {
	Orientation string
	UploadType  string
}

// NewYearbookService creates a YearbookService instance.
func NewYearbookService(gdb *gorm.DB) *YearbookService {
	return &YearbookService{db: gdb}
}

// Get fetches a yearbook by id.
func (s *YearbookService) Get(id uint) (*db.Yearbook, error) {
	var yearbook db.Yearbook
	if err := s.db.First(&yearbook, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrYearbookNotFound
		}
		return nil, err
	}
	return &yearbook, nil
}

// ListBySchool returns all yearbooks of a school, newest year first.
func (s *YearbookService) ListBySchool(schoolID uint) ([]db.Yearbook, error) {
	var yearbooks []db.Yearbook
	if err := s.db.Where("school_id = ?", schoolID).
		Order("year desc").Order("id desc").
		Find(&yearbooks).Error; err != nil {
		return nil, err
	}
	return yearbooks, nil
}

// Create persists a new, uninitialized yearbook.
func (s *YearbookService) Create(input YearbookInput) (*db.Yearbook, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, ErrYearbookTitleMissing
	}

	yearbook := db.Yearbook{
		SchoolID: input.SchoolID,
		Year:     input.Year,
		Title:    title,
	}
	if err := s.db.Create(&yearbook).Error; err != nil {
		return nil, err
	}
	return &yearbook, nil
}

// Setup applies the setup wizard selections and marks the yearbook
// initialized. The upload type is locked as soon as pages exist, because
// image mode and pdf mode route edits differently.
func (s *YearbookService) Setup(id uint, input SetupInput) (*db.Yearbook, error) {
	yearbook, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	orientation := strings.ToLower(strings.TrimSpace(input.Orientation))
	if orientation != db.OrientationPortrait && orientation != db.OrientationLandscape {
		return nil, ErrOrientationInvalid
	}

	uploadType := strings.ToLower(strings.TrimSpace(input.UploadType))
	if uploadType != db.UploadTypeImage && uploadType != db.UploadTypePDF {
		return nil, ErrUploadTypeInvalid
	}

	if yearbook.UploadType != "" && yearbook.UploadType != uploadType {
		var pageCount int64
		if err := s.db.Model(&db.YearbookPage{}).
			Where("yearbook_id = ?", yearbook.ID).
			Count(&pageCount).Error; err != nil {
			return nil, err
		}
		if pageCount > 0 {
			return nil, ErrUploadTypeLocked
		}
	}

	updates := map[string]interface{}{
		"orientation":    orientation,
		"upload_type":    uploadType,
		"is_initialized": true,
	}
	if err := s.db.Model(&db.Yearbook{}).Where("id = ?", yearbook.ID).Updates(updates).Error; err != nil {
		return nil, err
	}

	return s.Get(yearbook.ID)
}

// Summary aggregates dashboard counters for one yearbook.
type Summary struct {
	ContentPages int64
	DraftPages   int64
	TOCEntries   int64
	HasCovers    bool
	IsPublished  bool
}

// Summarize builds the dashboard summary for a yearbook.
func (s *YearbookService) Summarize(id uint) (*Summary, error) {
	yearbook, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	summary := &Summary{IsPublished: yearbook.IsPublished}

	if err := s.db.Model(&db.YearbookPage{}).
		Where("yearbook_id = ? AND page_type = ? AND status <> ?", id, db.PageTypeContent, db.PageStatusDraftDeleted).
		Count(&summary.ContentPages).Error; err != nil {
		return nil, err
	}

	if err := s.db.Model(&db.YearbookPage{}).
		Where("yearbook_id = ? AND status IN ?", id, []string{db.PageStatusDraft, db.PageStatusDraftDeleted}).
		Count(&summary.DraftPages).Error; err != nil {
		return nil, err
	}

	if err := s.db.Model(&db.TOCEntry{}).
		Where("yearbook_id = ?", id).
		Count(&summary.TOCEntries).Error; err != nil {
		return nil, err
	}

	var coverCount int64
	if err := s.db.Model(&db.YearbookPage{}).
		Where("yearbook_id = ? AND page_type IN ?", id, []string{db.PageTypeFrontCover, db.PageTypeBackCover}).
		Count(&coverCount).Error; err != nil {
		return nil, err
	}
	summary.HasCovers = coverCount == 2

	return summary, nil
}
