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

func setupTOCServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:toc-service-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := gdb.AutoMigrate(&db.User{}, &db.Yearbook{}, &db.YearbookPage{}, &db.TOCEntry{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return gdb
}

func TestTOCService_CreateValidatesReference(t *testing.T) {
	gdb := setupTOCServiceTestDB(t)
	pages := NewPageService(gdb)
	svc := NewTOCService(gdb, pages)
	yearbook := createTestYearbook(t, gdb)
	createContentPages(t, pages, yearbook.ID, 3)

	if _, err := svc.Create(yearbook.ID, TOCInput{Title: "", PageNumber: 1}); !errors.Is(err, ErrTOCTitleMissing) {
		t.Fatalf("expected ErrTOCTitleMissing, got %v", err)
	}
	if _, err := svc.Create(yearbook.ID, TOCInput{Title: "班级合影", PageNumber: 0}); !errors.Is(err, ErrTOCPageOutOfRange) {
		t.Fatalf("expected ErrTOCPageOutOfRange for 0, got %v", err)
	}
	if _, err := svc.Create(yearbook.ID, TOCInput{Title: "班级合影", PageNumber: 4}); !errors.Is(err, ErrTOCPageOutOfRange) {
		t.Fatalf("expected ErrTOCPageOutOfRange for 4, got %v", err)
	}

	entry, err := svc.Create(yearbook.ID, TOCInput{Title: " 班级合影 ", PageNumber: 2, Description: "**全体合影**"})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if entry.Title != "班级合影" {
		t.Fatalf("title must be trimmed, got %q", entry.Title)
	}
	if entry.Status != db.PageStatusPublished {
		t.Fatalf("default status must be published, got %q", entry.Status)
	}
}

func TestTOCService_ListFiltersDrafts(t *testing.T) {
	gdb := setupTOCServiceTestDB(t)
	pages := NewPageService(gdb)
	svc := NewTOCService(gdb, pages)
	yearbook := createTestYearbook(t, gdb)
	createContentPages(t, pages, yearbook.ID, 2)

	if _, err := svc.Create(yearbook.ID, TOCInput{Title: "已发布", PageNumber: 1}); err != nil {
		t.Fatalf("published entry: %v", err)
	}
	if _, err := svc.Create(yearbook.ID, TOCInput{Title: "草稿", PageNumber: 2, Status: db.PageStatusDraft}); err != nil {
		t.Fatalf("draft entry: %v", err)
	}

	visible, err := svc.List(yearbook.ID, false)
	if err != nil {
		t.Fatalf("list published: %v", err)
	}
	if len(visible) != 1 || visible[0].Title != "已发布" {
		t.Fatalf("viewer list must hide drafts, got %+v", visible)
	}

	all, err := svc.List(yearbook.ID, true)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("editor list must include drafts, got %d entries", len(all))
	}
}

func TestTOCService_UpdateKeepsStatus(t *testing.T) {
	gdb := setupTOCServiceTestDB(t)
	pages := NewPageService(gdb)
	svc := NewTOCService(gdb, pages)
	yearbook := createTestYearbook(t, gdb)
	createContentPages(t, pages, yearbook.ID, 2)

	entry, err := svc.Create(yearbook.ID, TOCInput{Title: "草稿", PageNumber: 1, Status: db.PageStatusDraft})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}

	updated, err := svc.Update(entry.ID, TOCInput{Title: "改名", PageNumber: 2})
	if err != nil {
		t.Fatalf("update entry: %v", err)
	}
	if updated.Title != "改名" || updated.PageNumber != 2 {
		t.Fatalf("update not applied: %+v", updated)
	}
	if updated.Status != db.PageStatusDraft {
		t.Fatalf("update must not change staging status, got %q", updated.Status)
	}

	if err := svc.Delete(entry.ID); err != nil {
		t.Fatalf("delete entry: %v", err)
	}
	if _, err := svc.Get(entry.ID); !errors.Is(err, ErrTOCEntryNotFound) {
		t.Fatalf("expected ErrTOCEntryNotFound, got %v", err)
	}
}
