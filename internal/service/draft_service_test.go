package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/yearbookpress/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupDraftServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:draft-service-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := gdb.AutoMigrate(&db.User{}, &db.Yearbook{}, &db.YearbookPage{}, &db.TOCEntry{}, &db.PriceChange{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return gdb
}

func publishTestYearbook(t *testing.T, gdb *gorm.DB, uploadType string) *db.Yearbook {
	t.Helper()
	now := time.Now()
	yearbook := db.Yearbook{
		SchoolID:      1,
		Year:          2026,
		Title:         "毕业纪念册",
		Orientation:   db.OrientationPortrait,
		UploadType:    uploadType,
		IsInitialized: true,
		IsPublished:   true,
		PublishedAt:   &now,
		Price:         "12.99",
	}
	if err := gdb.Create(&yearbook).Error; err != nil {
		t.Fatalf("create yearbook: %v", err)
	}
	return &yearbook
}

func TestDraftService_RouteStatus(t *testing.T) {
	gdb := setupDraftServiceTestDB(t)
	svc := NewDraftService(gdb, NewPageService(gdb))

	unpublished := &db.Yearbook{UploadType: db.UploadTypeImage}
	if got := svc.RouteStatus(unpublished, db.PageTypeContent); got != db.PageStatusPublished {
		t.Fatalf("unpublished content edits must be live, got %q", got)
	}

	published := &db.Yearbook{UploadType: db.UploadTypeImage, IsPublished: true}
	if got := svc.RouteStatus(published, db.PageTypeContent); got != db.PageStatusDraft {
		t.Fatalf("published image-mode content edits must be staged, got %q", got)
	}
	if got := svc.RouteStatus(published, db.PageTypeFrontCover); got != db.PageStatusPublished {
		t.Fatalf("cover edits always apply live, got %q", got)
	}

	pdfMode := &db.Yearbook{UploadType: db.UploadTypePDF, IsPublished: true}
	if got := svc.RouteStatus(pdfMode, db.PageTypeContent); got != db.PageStatusPublished {
		t.Fatalf("pdf mode has no draft staging, got %q", got)
	}
}

func TestDraftService_PublishGuards(t *testing.T) {
	gdb := setupDraftServiceTestDB(t)
	pages := NewPageService(gdb)
	svc := NewDraftService(gdb, pages)

	yearbook := db.Yearbook{SchoolID: 1, Year: 2026, Title: "未发布", UploadType: db.UploadTypeImage}
	if err := gdb.Create(&yearbook).Error; err != nil {
		t.Fatalf("create yearbook: %v", err)
	}

	if _, err := svc.Publish(yearbook.ID); !errors.Is(err, ErrCoversRequired) {
		t.Fatalf("expected ErrCoversRequired, got %v", err)
	}

	if _, _, err := pages.ReplaceCover(yearbook.ID, db.PageTypeFrontCover, "", "/f.jpg", "", ""); err != nil {
		t.Fatalf("front cover: %v", err)
	}
	if _, _, err := pages.ReplaceCover(yearbook.ID, db.PageTypeBackCover, "", "/b.jpg", "", ""); err != nil {
		t.Fatalf("back cover: %v", err)
	}

	if _, err := svc.Publish(yearbook.ID); !errors.Is(err, ErrPriceRequired) {
		t.Fatalf("expected ErrPriceRequired, got %v", err)
	}

	if err := gdb.Model(&db.Yearbook{}).Where("id = ?", yearbook.ID).Update("price", "9.99").Error; err != nil {
		t.Fatalf("set price: %v", err)
	}

	result, err := svc.Publish(yearbook.ID)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !result.IsPublished || result.PublishedAt == nil {
		t.Fatalf("expected published yearbook with timestamp")
	}

	// 重复发布是幂等的
	if _, err := svc.Publish(yearbook.ID); err != nil {
		t.Fatalf("second publish must be a no-op: %v", err)
	}
}

func TestDraftService_SaveDraftsCommitsEverything(t *testing.T) {
	gdb := setupDraftServiceTestDB(t)
	pages := NewPageService(gdb)
	svc := NewDraftService(gdb, pages)
	yearbook := publishTestYearbook(t, gdb, db.UploadTypeImage)

	var live []db.YearbookPage
	for i := 0; i < 3; i++ {
		page, err := pages.CreateContent(PageInput{
			YearbookID: yearbook.ID,
			ImageURL:   fmt.Sprintf("/p%d.jpg", i+1),
		})
		if err != nil {
			t.Fatalf("live page %d: %v", i+1, err)
		}
		live = append(live, *page)
	}

	draft, err := pages.CreateContent(PageInput{
		YearbookID: yearbook.ID,
		ImageURL:   "/draft.jpg",
		Status:     db.PageStatusDraft,
	})
	if err != nil {
		t.Fatalf("draft page: %v", err)
	}
	if err := pages.MarkDraftDeleted(live[0].ID); err != nil {
		t.Fatalf("mark draft deleted: %v", err)
	}
	if _, err := NewTOCService(gdb, pages).Create(yearbook.ID, TOCInput{
		Title:      "草稿目录",
		PageNumber: 1,
		Status:     db.PageStatusDraft,
	}); err != nil {
		t.Fatalf("draft toc: %v", err)
	}
	if err := svc.TouchDraft(yearbook.ID); err != nil {
		t.Fatalf("touch draft: %v", err)
	}

	result, err := svc.SaveDrafts(yearbook.ID)
	if err != nil {
		t.Fatalf("save drafts: %v", err)
	}
	if result.PagesPublished != 1 || result.PagesRemoved != 1 || result.TOCPublished != 1 {
		t.Fatalf("unexpected save result: %+v", result)
	}

	if _, err := pages.Get(live[0].ID); !errors.Is(err, ErrPageNotFound) {
		t.Fatalf("draft-deleted page must be gone after save, got %v", err)
	}

	content, err := pages.ListPublishedContent(yearbook.ID)
	if err != nil {
		t.Fatalf("list published: %v", err)
	}
	if len(content) != 3 {
		t.Fatalf("expected 3 published pages, got %d", len(content))
	}
	for i, page := range content {
		if page.PageNumber != i+1 {
			t.Fatalf("sequence not contiguous at position %d: %d", i+1, page.PageNumber)
		}
	}
	found := false
	for _, page := range content {
		if page.ID == draft.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("draft page must be live after save")
	}

	dirty, err := svc.HasUnsavedDrafts(yearbook.ID)
	if err != nil {
		t.Fatalf("has unsaved drafts: %v", err)
	}
	if dirty {
		t.Fatalf("yearbook must be clean after save")
	}

	var reloaded db.Yearbook
	if err := gdb.First(&reloaded, yearbook.ID).Error; err != nil {
		t.Fatalf("reload yearbook: %v", err)
	}
	if reloaded.DraftTouchedAt != nil {
		t.Fatalf("draft touch timestamp must be cleared after save")
	}

	// 再保存一次应当什么都不做
	again, err := svc.SaveDrafts(yearbook.ID)
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if again.PagesPublished != 0 || again.PagesRemoved != 0 || again.TOCPublished != 0 {
		t.Fatalf("second save must be a no-op: %+v", again)
	}
}

func TestDraftService_DiscardRestoresHiddenSlot(t *testing.T) {
	gdb := setupDraftServiceTestDB(t)
	pages := NewPageService(gdb)
	svc := NewDraftService(gdb, pages)
	yearbook := publishTestYearbook(t, gdb, db.UploadTypeImage)

	var live []db.YearbookPage
	for i := 0; i < 3; i++ {
		page, err := pages.CreateContent(PageInput{
			YearbookID: yearbook.ID,
			ImageURL:   fmt.Sprintf("/p%d.jpg", i+1),
		})
		if err != nil {
			t.Fatalf("live page %d: %v", i+1, err)
		}
		live = append(live, *page)
	}

	if _, err := pages.CreateContent(PageInput{
		YearbookID: yearbook.ID,
		ImageURL:   "/staged.jpg",
		Status:     db.PageStatusDraft,
	}); err != nil {
		t.Fatalf("staged page: %v", err)
	}
	if err := pages.MarkDraftDeleted(live[1].ID); err != nil {
		t.Fatalf("mark draft deleted: %v", err)
	}

	result, err := svc.DiscardDrafts(yearbook.ID)
	if err != nil {
		t.Fatalf("discard drafts: %v", err)
	}
	if result.PagesDropped != 1 || result.PagesRestored != 1 {
		t.Fatalf("unexpected discard result: %+v", result)
	}
	if len(result.RemovedImageURLs) != 1 || result.RemovedImageURLs[0] != "/staged.jpg" {
		t.Fatalf("expected staged image url for cleanup, got %v", result.RemovedImageURLs)
	}

	// 恢复后回到删除前的顺序 1,2,3
	content, err := pages.ListPublishedContent(yearbook.ID)
	if err != nil {
		t.Fatalf("list published: %v", err)
	}
	if len(content) != 3 {
		t.Fatalf("expected 3 pages after discard, got %d", len(content))
	}
	for i, page := range content {
		if page.ID != live[i].ID {
			t.Fatalf("position %d: expected page %d, got %d", i+1, live[i].ID, page.ID)
		}
		if page.PageNumber != i+1 {
			t.Fatalf("page %d: expected number %d, got %d", page.ID, i+1, page.PageNumber)
		}
	}

	dirty, err := svc.HasUnsavedDrafts(yearbook.ID)
	if err != nil {
		t.Fatalf("has unsaved drafts: %v", err)
	}
	if dirty {
		t.Fatalf("yearbook must be clean after discard")
	}
}
