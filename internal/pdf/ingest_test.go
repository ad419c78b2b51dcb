package pdf

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yearbookpress/internal/db"
	"github.com/yearbookpress/internal/service"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeDocument struct {
	pages  int
	failAt int // 1-based 页码，0 表示不失败
	closed bool
}

func (d *fakeDocument) NumPages() int {
	return d.pages
}

func (d *fakeDocument) Image(index int) (image.Image, error) {
	if d.failAt > 0 && index+1 == d.failAt {
		return nil, errors.New("simulated rasterization failure")
	}
	img := image.NewRGBA(image.Rect(0, 0, 40, 60))
	img.Set(0, 0, color.RGBA{R: uint8(index), A: 255})
	return img, nil
}

func (d *fakeDocument) Close() error {
	d.closed = true
	return nil
}

type fakeRasterizer struct {
	doc     *fakeDocument
	openErr error
}

func (r *fakeRasterizer) Open(path string) (Document, error) {
	if r.openErr != nil {
		return nil, r.openErr
	}
	return r.doc, nil
}

func setupIngestTest(t *testing.T, raster Rasterizer) (*IngestService, *service.PageService, *gorm.DB, string) {
	t.Helper()
	dsn := fmt.Sprintf("file:pdf-ingest-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := gdb.AutoMigrate(&db.User{}, &db.Yearbook{}, &db.YearbookPage{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	uploadDir := t.TempDir()
	pages := service.NewPageService(gdb)
	return NewIngestService(pages, raster, uploadDir, "/uploads"), pages, gdb, uploadDir
}

func createIngestYearbook(t *testing.T, gdb *gorm.DB) *db.Yearbook {
	t.Helper()
	yearbook := db.Yearbook{
		SchoolID:      1,
		Year:          2026,
		Title:         "PDF 年册",
		Orientation:   db.OrientationPortrait,
		UploadType:    db.UploadTypePDF,
		IsInitialized: true,
	}
	if err := gdb.Create(&yearbook).Error; err != nil {
		t.Fatalf("create yearbook: %v", err)
	}
	return &yearbook
}

func writeFakePDF(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.pdf")
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write fake pdf: %v", err)
	}
	return path
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	total := 0
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total++
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("walk upload dir: %v", err)
	}
	return total
}

func TestIngest_ClassifiesCoversAndContent(t *testing.T) {
	doc := &fakeDocument{pages: 5}
	svc, pages, gdb, uploadDir := setupIngestTest(t, &fakeRasterizer{doc: doc})
	yearbook := createIngestYearbook(t, gdb)

	pdfPath := writeFakePDF(t, 1024)
	result, err := svc.Ingest(yearbook.ID, pdfPath, db.PageTypeContent, "2026 届")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if result.PagesCreated != 5 || !result.CoversAutoAssigned {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.BatchID == "" {
		t.Fatalf("every ingest run must carry a batch id")
	}
	if !doc.closed {
		t.Fatalf("document must be closed after ingest")
	}
	if _, err := os.Stat(pdfPath); !os.IsNotExist(err) {
		t.Fatalf("original pdf must be removed, stat err: %v", err)
	}

	front, back, err := pages.Covers(yearbook.ID)
	if err != nil {
		t.Fatalf("covers: %v", err)
	}
	if front == nil || back == nil {
		t.Fatalf("first and last page must become the covers")
	}
	if front.PDFBatchID != result.BatchID || back.PDFBatchID != result.BatchID {
		t.Fatalf("covers must carry the batch id")
	}

	content, err := pages.ListContent(yearbook.ID)
	if err != nil {
		t.Fatalf("list content: %v", err)
	}
	if len(content) != 3 {
		t.Fatalf("expected 3 content pages, got %d", len(content))
	}
	for i, page := range content {
		if page.PageNumber != i+1 {
			t.Fatalf("content numbering broken at %d: %d", i+1, page.PageNumber)
		}
		if page.Status != db.PageStatusPublished {
			t.Fatalf("pdf pages apply live, got status %q", page.Status)
		}
	}

	// 每页一张原图加一张缩略图
	if got := countFiles(t, uploadDir); got != 10 {
		t.Fatalf("expected 10 image files, got %d", got)
	}
}

func TestIngest_CoverIntentKeepsFirstPageOnly(t *testing.T) {
	doc := &fakeDocument{pages: 4}
	svc, pages, gdb, uploadDir := setupIngestTest(t, &fakeRasterizer{doc: doc})
	yearbook := createIngestYearbook(t, gdb)

	result, err := svc.Ingest(yearbook.ID, writeFakePDF(t, 1024), db.PageTypeFrontCover, "封面")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.PagesCreated != 1 || result.CoversAutoAssigned {
		t.Fatalf("cover intent must keep one page: %+v", result)
	}

	front, back, err := pages.Covers(yearbook.ID)
	if err != nil {
		t.Fatalf("covers: %v", err)
	}
	if front == nil || back != nil {
		t.Fatalf("only the front cover slot must be filled")
	}
	if got := countFiles(t, uploadDir); got != 2 {
		t.Fatalf("expected 2 image files, got %d", got)
	}
}

func TestIngest_RejectsOversizePDF(t *testing.T) {
	svc, _, gdb, _ := setupIngestTest(t, &fakeRasterizer{doc: &fakeDocument{pages: 1}})
	yearbook := createIngestYearbook(t, gdb)

	path := filepath.Join(t.TempDir(), "big.pdf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create sparse file: %v", err)
	}
	if err := f.Truncate(MaxPDFBytes + 1); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	f.Close()

	if _, err := svc.Ingest(yearbook.ID, path, db.PageTypeContent, ""); !errors.Is(err, ErrPDFTooLarge) {
		t.Fatalf("expected ErrPDFTooLarge, got %v", err)
	}
}

func TestIngest_RejectsMixedContent(t *testing.T) {
	svc, pages, gdb, _ := setupIngestTest(t, &fakeRasterizer{doc: &fakeDocument{pages: 3}})
	yearbook := createIngestYearbook(t, gdb)

	if _, err := pages.CreateContent(service.PageInput{
		YearbookID: yearbook.ID,
		ImageURL:   "/uploads/pages/1/manual.jpg",
	}); err != nil {
		t.Fatalf("existing page: %v", err)
	}

	if _, err := svc.Ingest(yearbook.ID, writeFakePDF(t, 1024), db.PageTypeContent, ""); !errors.Is(err, ErrMixedContent) {
		t.Fatalf("expected ErrMixedContent, got %v", err)
	}
}

func TestIngest_RejectsEmptyOrBrokenPDF(t *testing.T) {
	svc, _, gdb, _ := setupIngestTest(t, &fakeRasterizer{openErr: errors.New("not a pdf")})
	yearbook := createIngestYearbook(t, gdb)

	if _, err := svc.Ingest(yearbook.ID, writeFakePDF(t, 128), db.PageTypeContent, ""); !errors.Is(err, ErrInvalidPDF) {
		t.Fatalf("expected ErrInvalidPDF for open failure, got %v", err)
	}

	svc2, _, gdb2, _ := setupIngestTest(t, &fakeRasterizer{doc: &fakeDocument{pages: 0}})
	yearbook2 := createIngestYearbook(t, gdb2)
	if _, err := svc2.Ingest(yearbook2.ID, writeFakePDF(t, 128), db.PageTypeContent, ""); !errors.Is(err, ErrInvalidPDF) {
		t.Fatalf("expected ErrInvalidPDF for zero pages, got %v", err)
	}
}

func TestIngest_CleansUpOnMidRunFailure(t *testing.T) {
	doc := &fakeDocument{pages: 5, failAt: 3}
	svc, pages, gdb, uploadDir := setupIngestTest(t, &fakeRasterizer{doc: doc})
	yearbook := createIngestYearbook(t, gdb)

	if _, err := svc.Ingest(yearbook.ID, writeFakePDF(t, 1024), db.PageTypeContent, ""); !errors.Is(err, ErrInvalidPDF) {
		t.Fatalf("expected ErrInvalidPDF, got %v", err)
	}

	if got := countFiles(t, uploadDir); got != 0 {
		t.Fatalf("partial output must be cleaned up, found %d files", got)
	}
	all, err := pages.ListAll(yearbook.ID)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("no page rows may survive a failed ingest, got %d", len(all))
	}
}

func TestIngest_DeleteBatchRemovesRowsAndFiles(t *testing.T) {
	doc := &fakeDocument{pages: 4}
	svc, pages, gdb, uploadDir := setupIngestTest(t, &fakeRasterizer{doc: doc})
	yearbook := createIngestYearbook(t, gdb)

	result, err := svc.Ingest(yearbook.ID, writeFakePDF(t, 1024), db.PageTypeContent, "")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if err := svc.DeleteBatch(result.BatchID); err != nil {
		t.Fatalf("delete batch: %v", err)
	}

	all, err := pages.ListAll(yearbook.ID)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no surviving rows, got %d", len(all))
	}
	if got := countFiles(t, uploadDir); got != 0 {
		t.Fatalf("expected no surviving files, got %d", got)
	}

	var reloaded db.Yearbook
	if err := gdb.First(&reloaded, yearbook.ID).Error; err != nil {
		t.Fatalf("reload yearbook: %v", err)
	}
	if reloaded.FrontCoverURL != "" || reloaded.BackCoverURL != "" {
		t.Fatalf("cover urls must be cleared after batch delete")
	}
}
