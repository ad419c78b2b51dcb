package pdf

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/yearbookpress/internal/db"
	"github.com/yearbookpress/internal/service"
)

// MaxPDFBytes 是单个上传 PDF 的体积上限（50MB）。
const MaxPDFBytes = 50 << 20

var (
	ErrPDFTooLarge  = errors.New("pdf exceeds the 50MB limit")
	ErrMixedContent = errors.New("content pages already exist; delete them before ingesting a pdf")
	ErrInvalidPDF   = errors.New("pdf could not be extracted")
)

// IngestResult summarizes one ingestion run.
type IngestResult struct {
	BatchID            string
	PagesCreated       int
	CoversAutoAssigned bool
}

// IngestService converts an uploaded PDF into an ordered set of page images
// and feeds them to the page store. Every run is tagged with one batch id so
// its whole output can be deleted as a unit.
type IngestService struct {
	pages     *service.PageService
	raster    Rasterizer
	uploadDir string
	uploadURL string
}

// NewIngestService creates an IngestService instance.
func NewIngestService(pages *service.PageService, raster Rasterizer, uploadDir, uploadURL string) *IngestService {
	return &IngestService{
		pages:     pages,
		raster:    raster,
		uploadDir: uploadDir,
		uploadURL: uploadURL,
	}
}

// Ingest rasterizes pdfPath for the given yearbook. intent is either
// "content" or an explicit cover slot. With content intent and at least two
// extracted pages, the first and last page become the covers and everything
// in between becomes content numbered 1..n-2. With a cover intent only the
// first page is kept. The original PDF is always removed; on failure every
// partially written image is cleaned up first.
func (s *IngestService) Ingest(yearbookID uint, pdfPath, intent, title string) (*IngestResult, error) {
	defer os.Remove(pdfPath)

	info, err := os.Stat(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("stat pdf: %w", err)
	}
	if info.Size() > MaxPDFBytes {
		return nil, ErrPDFTooLarge
	}

	if intent == db.PageTypeContent {
		exists, err := s.pages.HasContent(yearbookID)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrMixedContent
		}
	}

	doc, err := s.raster.Open(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	defer doc.Close()

	total := doc.NumPages()
	if total == 0 {
		return nil, ErrInvalidPDF
	}

	batchID := uuid.New().String()
	dir := s.pageDir(yearbookID)

	var written []string
	cleanup := func() {
		for _, path := range written {
			os.Remove(path)
		}
		s.pruneDir(dir)
	}

	result := &IngestResult{BatchID: batchID}

	if intent == db.PageTypeFrontCover || intent == db.PageTypeBackCover {
		// 显式指定封面槽位时只保留第一页，其余全部丢弃
		imageURL, thumbURL, paths, err := s.extractPage(doc, 0, dir, batchID)
		if err != nil {
			cleanup()
			return nil, err
		}
		written = append(written, paths...)

		if _, _, err := s.pages.ReplaceCover(yearbookID, intent, title, imageURL, thumbURL, batchID); err != nil {
			cleanup()
			return nil, err
		}
		result.PagesCreated = 1
		return result, nil
	}

	type extracted struct {
		imageURL string
		thumbURL string
	}
	pages := make([]extracted, 0, total)
	for i := 0; i < total; i++ {
		imageURL, thumbURL, paths, err := s.extractPage(doc, i, dir, batchID)
		if err != nil {
			cleanup()
			return nil, err
		}
		written = append(written, paths...)
		pages = append(pages, extracted{imageURL: imageURL, thumbURL: thumbURL})
	}

	// 页数不少于 2 时自动归类：首页为封面，末页为封底，中间为正文
	assignCovers := total >= 2
	for i, page := range pages {
		switch {
		case assignCovers && i == 0:
			if _, _, err := s.pages.ReplaceCover(yearbookID, db.PageTypeFrontCover, title, page.imageURL, page.thumbURL, batchID); err != nil {
				cleanup()
				return nil, err
			}
		case assignCovers && i == total-1:
			if _, _, err := s.pages.ReplaceCover(yearbookID, db.PageTypeBackCover, title, page.imageURL, page.thumbURL, batchID); err != nil {
				cleanup()
				return nil, err
			}
		default:
			if _, err := s.pages.CreateContent(service.PageInput{
				YearbookID: yearbookID,
				Title:      title,
				ImageURL:   page.imageURL,
				ThumbURL:   page.thumbURL,
				Status:     db.PageStatusPublished,
				PDFBatchID: batchID,
			}); err != nil {
				cleanup()
				return nil, err
			}
		}
		result.PagesCreated++
	}
	result.CoversAutoAssigned = assignCovers

	return result, nil
}

// DeleteBatch cascades one ingestion run away: page rows, image files, and
// the per-yearbook directory when it ends up empty.
func (s *IngestService) DeleteBatch(batchID string) error {
	pages, err := s.pages.DeleteBatch(batchID)
	if err != nil {
		return err
	}

	for _, page := range pages {
		s.removeFile(page.ImageURL)
		s.removeFile(page.ThumbURL)
	}
	if len(pages) > 0 {
		s.pruneDir(s.pageDir(pages[0].YearbookID))
	}
	return nil
}

// SavePageImage writes an already-decoded image through the same scaling and
// thumbnail pipeline as pdf extraction. Used by single-image page uploads.
func (s *IngestService) SavePageImage(img image.Image, yearbookID uint) (string, string, error) {
	dir := s.pageDir(yearbookID)
	base := uuid.New().String()

	fileName, thumbName, err := writePageFiles(img, dir, base)
	if err != nil {
		return "", "", err
	}
	return s.pageURL(yearbookID, fileName), s.pageURL(yearbookID, thumbName), nil
}

// RemoveFiles deletes the files behind the given page urls and prunes empty
// page directories. Best effort, errors are swallowed.
func (s *IngestService) RemoveFiles(urls []string) {
	dirs := make(map[string]bool)
	for _, url := range urls {
		if path, ok := s.fileForURL(url); ok {
			os.Remove(path)
			dirs[filepath.Dir(path)] = true
		}
	}
	for dir := range dirs {
		s.pruneDir(dir)
	}
}

// FileForURL resolves a page url back to its on-disk path. Used by the
// secure serving indirection.
func (s *IngestService) FileForURL(url string) (string, bool) {
	return s.fileForURL(url)
}

func (s *IngestService) extractPage(doc Document, index int, dir, batchID string) (string, string, []string, error) {
	img, err := doc.Image(index)
	if err != nil {
		return "", "", nil, fmt.Errorf("%w: page %d: %v", ErrInvalidPDF, index+1, err)
	}

	base := fmt.Sprintf("%s-%03d", batchID, index+1)
	fileName, thumbName, err := writePageFiles(img, dir, base)
	if err != nil {
		return "", "", nil, err
	}

	yearbookID := filepath.Base(dir)
	imageURL := s.uploadURL + "/pages/" + yearbookID + "/" + fileName
	thumbURL := s.uploadURL + "/pages/" + yearbookID + "/" + thumbName
	paths := []string{filepath.Join(dir, fileName), filepath.Join(dir, thumbName)}
	return imageURL, thumbURL, paths, nil
}

func (s *IngestService) pageDir(yearbookID uint) string {
	return filepath.Join(s.uploadDir, "pages", strconv.FormatUint(uint64(yearbookID), 10))
}

func (s *IngestService) pageURL(yearbookID uint, fileName string) string {
	return s.uploadURL + "/pages/" + strconv.FormatUint(uint64(yearbookID), 10) + "/" + fileName
}

func (s *IngestService) fileForURL(url string) (string, bool) {
	trimmed := strings.TrimPrefix(url, s.uploadURL)
	if trimmed == url || trimmed == "" {
		return "", false
	}
	trimmed = strings.TrimPrefix(trimmed, "/")
	// 防止路径逃逸出上传目录
	clean := filepath.Clean(trimmed)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", false
	}
	return filepath.Join(s.uploadDir, filepath.FromSlash(clean)), true
}

func (s *IngestService) removeFile(url string) {
	if path, ok := s.fileForURL(url); ok {
		os.Remove(path)
	}
}

func (s *IngestService) pruneDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err == nil && len(entries) == 0 {
		os.Remove(dir)
	}
}
