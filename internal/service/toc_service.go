package service

import (
	"errors"
	"strings"

	"github.com/yearbookpress/internal/db"
	"gorm.io/gorm"
)

var (
	ErrTOCEntryNotFound  = errors.New("table of contents entry not found")
	ErrTOCTitleMissing   = errors.New("table of contents title is required")
	ErrTOCPageOutOfRange = errors.New("table of contents page number is out of range")
)

// TOCService manages the named references into the content-page sequence.
// Entries point at content numbers, never at covers.
type TOCService struct {
	db    *gorm.DB
	pages *PageService
}

// TOCInput represents fields accepted when creating or updating an entry.
type TOCInput struct {
	Title       string
	PageNumber  int
	Description string
	Status      string // published or draft, decided by the reconciler
}

// NewTOCService creates a TOCService instance.
func NewTOCService(gdb *gorm.DB, pages *PageService) *TOCService {
	return &TOCService{db: gdb, pages: pages}
}

// List returns entries ordered by the page they point at.
func (s *TOCService) List(yearbookID uint, includeDrafts bool) ([]db.TOCEntry, error) {
	query := s.db.Where("yearbook_id = ?", yearbookID)
	if !includeDrafts {
		query = query.Where("status = ?", db.PageStatusPublished)
	}

	var entries []db.TOCEntry
	if err := query.Order("page_number asc").Order("id asc").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// Get fetches an entry by id.
func (s *TOCService) Get(id uint) (*db.TOCEntry, error) {
	var entry db.TOCEntry
	if err := s.db.First(&entry, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTOCEntryNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// Create validates the reference and inserts a new entry.
func (s *TOCService) Create(yearbookID uint, input TOCInput) (*db.TOCEntry, error) {
	if err := s.validate(yearbookID, input); err != nil {
		return nil, err
	}

	status := input.Status
	if status == "" {
		status = db.PageStatusPublished
	}

	entry := db.TOCEntry{
		YearbookID:  yearbookID,
		Title:       strings.TrimSpace(input.Title),
		PageNumber:  input.PageNumber,
		Description: strings.TrimSpace(input.Description),
		Status:      status,
	}
	if err := s.db.Create(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// Update modifies an existing entry; the staged/live status never changes
// through an update, only through save or discard.
func (s *TOCService) Update(id uint, input TOCInput) (*db.TOCEntry, error) {
	entry, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if err := s.validate(entry.YearbookID, input); err != nil {
		return nil, err
	}

	entry.Title = strings.TrimSpace(input.Title)
	entry.PageNumber = input.PageNumber
	entry.Description = strings.TrimSpace(input.Description)

	if err := s.db.Save(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

// Delete removes an entry.
func (s *TOCService) Delete(id uint) error {
	entry, err := s.Get(id)
	if err != nil {
		return err
	}
	return s.db.Unscoped().Delete(entry).Error
}

func (s *TOCService) validate(yearbookID uint, input TOCInput) error {
	if strings.TrimSpace(input.Title) == "" {
		return ErrTOCTitleMissing
	}

	pages, err := s.pages.ListContent(yearbookID)
	if err != nil {
		return err
	}
	if input.PageNumber < 1 || input.PageNumber > len(pages) {
		return ErrTOCPageOutOfRange
	}
	return nil
}
