package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yearbookpress/internal/db"
	"github.com/yearbookpress/internal/ordering"
	"gorm.io/gorm"
)

var (
	ErrPageNotFound     = errors.New("page not found")
	ErrPageImageMissing = errors.New("page image is required")
	ErrCoverSlotInvalid = errors.New("cover slot is invalid")
	ErrPageMismatch     = errors.New("pages belong to different yearbooks")
)

// PageService owns the page store and the page-number invariant: content
// pages of a yearbook, excluding draft_deleted ones, always number 1..N.
type PageService struct {
	db *gorm.DB
}

// PageInput represents fields accepted when creating a content page.
type PageInput struct {
	YearbookID uint
	Title      string
	ImageURL   string
	ThumbURL   string
	Status     string // published or draft, decided by the reconciler
	PageNumber int    // 0 表示追加到末尾
	PDFBatchID string
}

// NewPageService creates a PageService instance.
func NewPageService(gdb *gorm.DB) *PageService {
	return &PageService{db: gdb}
}

// Get fetches a page by id.
func (s *PageService) Get(id uint) (*db.YearbookPage, error) {
	var page db.YearbookPage
	if err := s.db.First(&page, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPageNotFound
		}
		return nil, err
	}
	return &page, nil
}

// ListContent returns the content sequence (published + draft) ordered by
// page number. draft_deleted pages keep their number but are excluded here.
func (s *PageService) ListContent(yearbookID uint) ([]db.YearbookPage, error) {
	var pages []db.YearbookPage
	if err := s.db.Where("yearbook_id = ? AND page_type = ? AND status <> ?",
		yearbookID, db.PageTypeContent, db.PageStatusDraftDeleted).
		Order("page_number asc").
		Find(&pages).Error; err != nil {
		return nil, err
	}
	return pages, nil
}

// ListPublishedContent returns only viewer-visible content pages.
func (s *PageService) ListPublishedContent(yearbookID uint) ([]db.YearbookPage, error) {
	var pages []db.YearbookPage
	if err := s.db.Where("yearbook_id = ? AND page_type = ? AND status = ?",
		yearbookID, db.PageTypeContent, db.PageStatusPublished).
		Order("page_number asc").
		Find(&pages).Error; err != nil {
		return nil, err
	}
	return pages, nil
}

// ListAll returns every page of a yearbook, covers first, for the editor
// overlay (including draft_deleted slots awaiting save or discard).
func (s *PageService) ListAll(yearbookID uint) ([]db.YearbookPage, error) {
	var pages []db.YearbookPage
	if err := s.db.Where("yearbook_id = ?", yearbookID).
		Order("page_type desc").Order("page_number asc").
		Find(&pages).Error; err != nil {
		return nil, err
	}
	return pages, nil
}

// HasContent reports whether any content page exists for the yearbook.
func (s *PageService) HasContent(yearbookID uint) (bool, error) {
	var count int64
	if err := s.db.Model(&db.YearbookPage{}).
		Where("yearbook_id = ? AND page_type = ?", yearbookID, db.PageTypeContent).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Covers returns the front and back cover if present.
func (s *PageService) Covers(yearbookID uint) (*db.YearbookPage, *db.YearbookPage, error) {
	var covers []db.YearbookPage
	if err := s.db.Where("yearbook_id = ? AND page_type IN ?",
		yearbookID, []string{db.PageTypeFrontCover, db.PageTypeBackCover}).
		Find(&covers).Error; err != nil {
		return nil, nil, err
	}

	var front, back *db.YearbookPage
	for i := range covers {
		switch covers[i].PageType {
		case db.PageTypeFrontCover:
			front = &covers[i]
		case db.PageTypeBackCover:
			back = &covers[i]
		}
	}
	return front, back, nil
}

// CreateContent appends a content page, then moves it to the requested
// number when one was given. The combined sequence stays contiguous.
func (s *PageService) CreateContent(input PageInput) (*db.YearbookPage, error) {
	if strings.TrimSpace(input.ImageURL) == "" {
		return nil, ErrPageImageMissing
	}

	status := input.Status
	if status == "" {
		status = db.PageStatusPublished
	}

	items, err := s.contentItems(input.YearbookID)
	if err != nil {
		return nil, err
	}

	page := db.YearbookPage{
		YearbookID: input.YearbookID,
		PageType:   db.PageTypeContent,
		PageNumber: len(items) + 1,
		Title:      strings.TrimSpace(input.Title),
		ImageURL:   strings.TrimSpace(input.ImageURL),
		ThumbURL:   strings.TrimSpace(input.ThumbURL),
		Status:     status,
		PDFBatchID: input.PDFBatchID,
	}
	if err := s.db.Create(&page).Error; err != nil {
		return nil, err
	}

	if input.PageNumber > 0 && input.PageNumber <= len(items) {
		if err := s.Reorder(page.ID, input.PageNumber); err != nil {
			return nil, err
		}
		return s.Get(page.ID)
	}

	return &page, nil
}

// ReplaceCover creates or replaces the cover in the given slot. Covers apply
// live regardless of publish state; the previous file urls are returned so
// the caller can drop them. Also stamps the yearbook's cover-url field.
func (s *PageService) ReplaceCover(yearbookID uint, slot, title, imageURL, thumbURL, batchID string) (*db.YearbookPage, []string, error) {
	if slot != db.PageTypeFrontCover && slot != db.PageTypeBackCover {
		return nil, nil, ErrCoverSlotInvalid
	}
	if strings.TrimSpace(imageURL) == "" {
		return nil, nil, ErrPageImageMissing
	}

	var previousURLs []string
	var cover db.YearbookPage
	err := s.db.Where("yearbook_id = ? AND page_type = ?", yearbookID, slot).First(&cover).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		cover = db.YearbookPage{
			YearbookID: yearbookID,
			PageType:   slot,
			PageNumber: 0,
			Status:     db.PageStatusPublished,
		}
	case err != nil:
		return nil, nil, err
	default:
		previousURLs = []string{cover.ImageURL, cover.ThumbURL}
	}

	cover.Title = strings.TrimSpace(title)
	cover.ImageURL = strings.TrimSpace(imageURL)
	cover.ThumbURL = strings.TrimSpace(thumbURL)
	cover.Status = db.PageStatusPublished
	cover.PDFBatchID = batchID

	if err := s.db.Save(&cover).Error; err != nil {
		return nil, nil, err
	}

	if err := s.stampCoverURL(yearbookID, slot, cover.ImageURL); err != nil {
		return nil, nil, err
	}

	return &cover, previousURLs, nil
}

// DeleteCover removes the cover in the given slot and clears the yearbook's
// cover-url field. Cover deletes always apply live.
func (s *PageService) DeleteCover(yearbookID uint, slot string) (string, error) {
	if slot != db.PageTypeFrontCover && slot != db.PageTypeBackCover {
		return "", ErrCoverSlotInvalid
	}

	var cover db.YearbookPage
	if err := s.db.Where("yearbook_id = ? AND page_type = ?", yearbookID, slot).First(&cover).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrPageNotFound
		}
		return "", err
	}

	if err := s.db.Unscoped().Delete(&cover).Error; err != nil {
		return "", err
	}
	if err := s.stampCoverURL(yearbookID, slot, ""); err != nil {
		return "", err
	}
	return cover.ImageURL, nil
}

// Reorder moves a content page to the requested number and replays the
// resulting renumbering as independent point updates.
func (s *PageService) Reorder(pageID uint, newNumber int) error {
	page, err := s.Get(pageID)
	if err != nil {
		return err
	}
	if page.IsCover() {
		return ordering.ErrNotReorderable
	}

	items, err := s.contentItems(page.YearbookID)
	if err != nil {
		return err
	}

	after, err := ordering.SetPosition(items, ordering.PersistedKey(pageID), newNumber)
	if err != nil {
		return err
	}

	return s.applyNumbers(ordering.Diff(items, after))
}

// Swap exchanges the numbers of two content pages with two point writes,
// leaving the rest of the sequence untouched.
func (s *PageService) Swap(pageAID, pageBID uint) error {
	pageA, err := s.Get(pageAID)
	if err != nil {
		return err
	}
	pageB, err := s.Get(pageBID)
	if err != nil {
		return err
	}
	if pageA.YearbookID != pageB.YearbookID {
		return ErrPageMismatch
	}
	if pageA.IsCover() || pageB.IsCover() {
		return ordering.ErrNotReorderable
	}

	items, err := s.contentItems(pageA.YearbookID)
	if err != nil {
		return err
	}

	after, err := ordering.Swap(items, ordering.PersistedKey(pageAID), ordering.PersistedKey(pageBID))
	if err != nil {
		return err
	}

	return s.applyNumbers(ordering.Diff(items, after))
}

// Delete hard-deletes a content page and closes the numbering gap with
// sequential point updates, so a failure mid-loop is retryable per page.
func (s *PageService) Delete(pageID uint) error {
	page, err := s.Get(pageID)
	if err != nil {
		return err
	}
	if page.IsCover() {
		return ordering.ErrNotReorderable
	}

	items, err := s.contentItems(page.YearbookID)
	if err != nil {
		return err
	}

	after, err := ordering.Delete(items, ordering.PersistedKey(pageID))
	if err != nil {
		if errors.Is(err, ordering.ErrItemNotFound) {
			// draft_deleted 页不在序列里，直接删行即可
			return s.db.Unscoped().Delete(&db.YearbookPage{}, pageID).Error
		}
		return err
	}

	if err := s.db.Unscoped().Delete(&db.YearbookPage{}, pageID).Error; err != nil {
		return err
	}

	return s.applyNumbers(ordering.Diff(items, after))
}

// MarkDraftDeleted flags a content page as deleted-in-draft. The page keeps
// its number as a hidden slot until the draft is saved or discarded, while
// the remaining live sequence is renumbered around it.
func (s *PageService) MarkDraftDeleted(pageID uint) error {
	page, err := s.Get(pageID)
	if err != nil {
		return err
	}
	if page.IsCover() {
		return ordering.ErrNotReorderable
	}

	if err := s.db.Model(&db.YearbookPage{}).
		Where("id = ?", pageID).
		Update("status", db.PageStatusDraftDeleted).Error; err != nil {
		return err
	}

	return s.RenumberContent(page.YearbookID)
}

// DeleteAll removes every page of a yearbook one row at a time and returns
// the removed image urls so callers can clean up files.
func (s *PageService) DeleteAll(yearbookID uint) ([]string, error) {
	pages, err := s.ListAll(yearbookID)
	if err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(pages)*2)
	for i := range pages {
		if err := s.db.Unscoped().Delete(&db.YearbookPage{}, pages[i].ID).Error; err != nil {
			return urls, fmt.Errorf("delete page %d: %w", pages[i].ID, err)
		}
		urls = append(urls, pages[i].ImageURL, pages[i].ThumbURL)
	}

	if err := s.db.Model(&db.Yearbook{}).Where("id = ?", yearbookID).
		Updates(map[string]interface{}{"front_cover_url": "", "back_cover_url": ""}).Error; err != nil {
		return urls, err
	}

	return urls, nil
}

// DeleteBatch removes every page created by one PDF ingestion run, then
// renumbers whatever content survives.
func (s *PageService) DeleteBatch(batchID string) ([]db.YearbookPage, error) {
	var pages []db.YearbookPage
	if err := s.db.Where("pdf_batch_id = ?", batchID).Find(&pages).Error; err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, ErrPageNotFound
	}

	yearbookID := pages[0].YearbookID
	for i := range pages {
		if err := s.db.Unscoped().Delete(&db.YearbookPage{}, pages[i].ID).Error; err != nil {
			return pages[:i], fmt.Errorf("delete page %d: %w", pages[i].ID, err)
		}
		switch pages[i].PageType {
		case db.PageTypeFrontCover, db.PageTypeBackCover:
			if err := s.stampCoverURL(yearbookID, pages[i].PageType, ""); err != nil {
				return pages[:i+1], err
			}
		}
	}

	if err := s.RenumberContent(yearbookID); err != nil {
		return pages, err
	}
	return pages, nil
}

// RenumberContent relabels the whole content sequence 1..N with sequential
// point updates. Used after bulk removals.
func (s *PageService) RenumberContent(yearbookID uint) error {
	items, err := s.contentItems(yearbookID)
	if err != nil {
		return err
	}
	return s.applyNumbers(ordering.Diff(items, ordering.Renumber(items)))
}

func (s *PageService) contentItems(yearbookID uint) ([]ordering.Item, error) {
	pages, err := s.ListContent(yearbookID)
	if err != nil {
		return nil, err
	}

	items := make([]ordering.Item, 0, len(pages))
	for _, page := range pages {
		items = append(items, ordering.Item{
			Kind:   ordering.KindPersisted,
			ID:     page.ID,
			Number: page.PageNumber,
		})
	}
	return items, nil
}

// applyNumbers replays number changes as one UPDATE per page. Sequential on
// purpose: a transient failure leaves every untouched page retryable, and
// setting the same number twice is harmless.
func (s *PageService) applyNumbers(changed []ordering.Item) error {
	for _, it := range changed {
		if err := s.db.Model(&db.YearbookPage{}).
			Where("id = ?", it.ID).
			Update("page_number", it.Number).Error; err != nil {
			return fmt.Errorf("renumber page %d: %w", it.ID, err)
		}
	}
	return nil
}

func (s *PageService) stampCoverURL(yearbookID uint, slot, url string) error {
	column := "front_cover_url"
	if slot == db.PageTypeBackCover {
		column = "back_cover_url"
	}
	return s.db.Model(&db.Yearbook{}).Where("id = ?", yearbookID).Update(column, url).Error
}
