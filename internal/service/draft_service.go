package service

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/yearbookpress/internal/db"
	"github.com/yearbookpress/internal/ordering"
	"gorm.io/gorm"
)

var (
	ErrCoversRequired = errors.New("front and back cover are required before publishing")
	ErrPriceRequired  = errors.New("a price within bounds is required before publishing")
)

// DraftService is the reconciler between the live state paying viewers see
// and the unsaved draft state of a published yearbook. It decides whether an
// edit applies immediately or is staged, and owns save/discard/auto-save.
type DraftService struct {
	db    *gorm.DB
	pages *PageService
}

// SaveResult reports what one publish-drafts run committed.
type SaveResult struct {
	PagesPublished int
	PagesRemoved   int
	TOCPublished   int
}

// DiscardResult reports what a discard dropped; RemovedImageURLs lets the
// caller delete the staged files.
type DiscardResult struct {
	PagesDropped     int
	PagesRestored    int
	TOCDropped       int
	RemovedImageURLs []string
}

// NewDraftService creates a DraftService instance.
func NewDraftService(gdb *gorm.DB, pages *PageService) *DraftService {
	return &DraftService{db: gdb, pages: pages}
}

// RouteStatus decides whether a mutation applies live or is staged as draft.
// Covers are always live. Before publishing everything is live. In pdf mode
// there is no staging at all; only image-mode content edits become drafts.
func (s *DraftService) RouteStatus(yearbook *db.Yearbook, pageType string) string {
	if !yearbook.IsPublished {
		return db.PageStatusPublished
	}
	if pageType == db.PageTypeFrontCover || pageType == db.PageTypeBackCover {
		return db.PageStatusPublished
	}
	if yearbook.UploadType == db.UploadTypePDF {
		return db.PageStatusPublished
	}
	return db.PageStatusDraft
}

// Publish moves an unpublished yearbook live. Both covers must exist and the
// price must be within bounds; both are re-validated server-side.
func (s *DraftService) Publish(yearbookID uint) (*db.Yearbook, error) {
	var yearbook db.Yearbook
	if err := s.db.First(&yearbook, yearbookID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrYearbookNotFound
		}
		return nil, err
	}

	if yearbook.IsPublished {
		return &yearbook, nil
	}

	front, back, err := s.pages.Covers(yearbookID)
	if err != nil {
		return nil, err
	}
	if front == nil || back == nil {
		return nil, ErrCoversRequired
	}

	if _, err := ParsePriceCents(yearbook.Price); err != nil {
		return nil, ErrPriceRequired
	}

	now := time.Now()
	if err := s.db.Model(&db.Yearbook{}).Where("id = ?", yearbookID).
		Updates(map[string]interface{}{
			"is_published": true,
			"published_at": now,
		}).Error; err != nil {
		return nil, err
	}

	yearbook.IsPublished = true
	yearbook.PublishedAt = &now
	return &yearbook, nil
}

// SaveDrafts is the publish-drafts transition: every draft page goes live,
// every draft_deleted page is permanently removed, draft TOC entries go
// live, and the surviving sequence is renumbered 1..N. Each page is one
// point operation so a partial failure leaves the rest retryable; committed
// items stay committed and the caller re-derives dirtiness from the server.
func (s *DraftService) SaveDrafts(yearbookID uint) (*SaveResult, error) {
	if _, err := s.ensureYearbook(yearbookID); err != nil {
		return nil, err
	}

	result := &SaveResult{}

	var staged []db.YearbookPage
	if err := s.db.Where("yearbook_id = ? AND status IN ?",
		yearbookID, []string{db.PageStatusDraft, db.PageStatusDraftDeleted}).
		Order("page_number asc").
		Find(&staged).Error; err != nil {
		return nil, err
	}

	for i := range staged {
		switch staged[i].Status {
		case db.PageStatusDraftDeleted:
			if err := s.db.Unscoped().Delete(&db.YearbookPage{}, staged[i].ID).Error; err != nil {
				return result, fmt.Errorf("remove draft-deleted page %d: %w", staged[i].ID, err)
			}
			result.PagesRemoved++
		case db.PageStatusDraft:
			if err := s.db.Model(&db.YearbookPage{}).
				Where("id = ?", staged[i].ID).
				Update("status", db.PageStatusPublished).Error; err != nil {
				return result, fmt.Errorf("publish draft page %d: %w", staged[i].ID, err)
			}
			result.PagesPublished++
		}
	}

	var draftTOC []db.TOCEntry
	if err := s.db.Where("yearbook_id = ? AND status = ?", yearbookID, db.PageStatusDraft).
		Find(&draftTOC).Error; err != nil {
		return result, err
	}
	for i := range draftTOC {
		if err := s.db.Model(&db.TOCEntry{}).
			Where("id = ?", draftTOC[i].ID).
			Update("status", db.PageStatusPublished).Error; err != nil {
			return result, fmt.Errorf("publish draft toc entry %d: %w", draftTOC[i].ID, err)
		}
		result.TOCPublished++
	}

	if err := s.pages.RenumberContent(yearbookID); err != nil {
		return result, err
	}

	if err := s.clearDraftTouch(yearbookID); err != nil {
		return result, err
	}

	return result, nil
}

// DiscardDrafts drops every staged edit: draft pages and TOC entries are
// deleted, draft_deleted pages come back at their retained number, and the
// sequence is renumbered 1..N.
func (s *DraftService) DiscardDrafts(yearbookID uint) (*DiscardResult, error) {
	if _, err := s.ensureYearbook(yearbookID); err != nil {
		return nil, err
	}

	result := &DiscardResult{}

	var drafts []db.YearbookPage
	if err := s.db.Where("yearbook_id = ? AND status = ?", yearbookID, db.PageStatusDraft).
		Find(&drafts).Error; err != nil {
		return nil, err
	}
	for i := range drafts {
		if err := s.db.Unscoped().Delete(&db.YearbookPage{}, drafts[i].ID).Error; err != nil {
			return result, fmt.Errorf("drop draft page %d: %w", drafts[i].ID, err)
		}
		result.PagesDropped++
		result.RemovedImageURLs = append(result.RemovedImageURLs, drafts[i].ImageURL)
		if drafts[i].ThumbURL != "" {
			result.RemovedImageURLs = append(result.RemovedImageURLs, drafts[i].ThumbURL)
		}
	}

	var hidden []db.YearbookPage
	if err := s.db.Where("yearbook_id = ? AND status = ?", yearbookID, db.PageStatusDraftDeleted).
		Find(&hidden).Error; err != nil {
		return result, err
	}
	restoredIDs := make(map[uint]bool, len(hidden))
	for i := range hidden {
		if err := s.db.Model(&db.YearbookPage{}).
			Where("id = ?", hidden[i].ID).
			Update("status", db.PageStatusPublished).Error; err != nil {
			return result, fmt.Errorf("restore page %d: %w", hidden[i].ID, err)
		}
		restoredIDs[hidden[i].ID] = true
		result.PagesRestored++
	}

	tocDelete := s.db.Unscoped().
		Where("yearbook_id = ? AND status = ?", yearbookID, db.PageStatusDraft).
		Delete(&db.TOCEntry{})
	if tocDelete.Error != nil {
		return result, tocDelete.Error
	}
	result.TOCDropped = int(tocDelete.RowsAffected)

	if err := s.reinsertRestored(yearbookID, restoredIDs); err != nil {
		return result, err
	}

	if err := s.clearDraftTouch(yearbookID); err != nil {
		return result, err
	}

	return result, nil
}

// TouchDraft refreshes the auto-save timestamp. Operational signal only, no
// durability implied.
func (s *DraftService) TouchDraft(yearbookID uint) error {
	if _, err := s.ensureYearbook(yearbookID); err != nil {
		return err
	}
	return s.db.Model(&db.Yearbook{}).
		Where("id = ?", yearbookID).
		Update("draft_touched_at", time.Now()).Error
}

// HasUnsavedDrafts derives dirtiness from server state, never from client
// flags.
func (s *DraftService) HasUnsavedDrafts(yearbookID uint) (bool, error) {
	var pageCount int64
	if err := s.db.Model(&db.YearbookPage{}).
		Where("yearbook_id = ? AND status IN ?",
			yearbookID, []string{db.PageStatusDraft, db.PageStatusDraftDeleted}).
		Count(&pageCount).Error; err != nil {
		return false, err
	}
	if pageCount > 0 {
		return true, nil
	}

	var tocCount int64
	if err := s.db.Model(&db.TOCEntry{}).
		Where("yearbook_id = ? AND status = ?", yearbookID, db.PageStatusDraft).
		Count(&tocCount).Error; err != nil {
		return false, err
	}
	return tocCount > 0, nil
}

// reinsertRestored rebuilds the content order after a discard. Restored pages
// kept their pre-deletion number; on a tie they slot in ahead of the page
// that was renumbered into their place.
func (s *DraftService) reinsertRestored(yearbookID uint, restoredIDs map[uint]bool) error {
	pages, err := s.pages.ListContent(yearbookID)
	if err != nil {
		return err
	}

	sort.SliceStable(pages, func(i, j int) bool {
		if pages[i].PageNumber != pages[j].PageNumber {
			return pages[i].PageNumber < pages[j].PageNumber
		}
		return restoredIDs[pages[i].ID] && !restoredIDs[pages[j].ID]
	})

	items := make([]ordering.Item, 0, len(pages))
	for _, page := range pages {
		items = append(items, ordering.Item{
			Kind:   ordering.KindPersisted,
			ID:     page.ID,
			Number: page.PageNumber,
		})
	}

	changed := ordering.Diff(items, ordering.Renumber(items))
	for _, it := range changed {
		if err := s.db.Model(&db.YearbookPage{}).
			Where("id = ?", it.ID).
			Update("page_number", it.Number).Error; err != nil {
			return fmt.Errorf("renumber page %d: %w", it.ID, err)
		}
	}
	return nil
}

func (s *DraftService) ensureYearbook(yearbookID uint) (*db.Yearbook, error) {
	var yearbook db.Yearbook
	if err := s.db.First(&yearbook, yearbookID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrYearbookNotFound
		}
		return nil, err
	}
	return &yearbook, nil
}

func (s *DraftService) clearDraftTouch(yearbookID uint) error {
	return s.db.Model(&db.Yearbook{}).
		Where("id = ?", yearbookID).
		Update("draft_touched_at", nil).Error
}
