package handler

import (
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/yearbookpress/internal/pdf"
	"github.com/yearbookpress/internal/service"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db          *gorm.DB
	yearbooks   *service.YearbookService
	pages       *service.PageService
	toc         *service.TOCService
	drafts      *service.DraftService
	prices      *service.PriceService
	system      *service.SystemSettingService
	ingest      *pdf.IngestService
	serveTokens *cache.Cache
	uploadDir   string
	uploadURL   string
}

// NewAPI constructs a handler set with shared services.
func NewAPI(gdb *gorm.DB, uploadDir, uploadURL string, raster pdf.Rasterizer) *API {
	systemService := service.NewSystemSettingService(gdb)

	// 通知 Webhook 在系统设置中配置，发送时实时取值，改动无需重启
	notifier := service.NewSettingsNotifier(systemService)

	pageService := service.NewPageService(gdb)

	return &API{
		db:          gdb,
		yearbooks:   service.NewYearbookService(gdb),
		pages:       pageService,
		toc:         service.NewTOCService(gdb, pageService),
		drafts:      service.NewDraftService(gdb, pageService),
		prices:      service.NewPriceService(gdb, notifier),
		system:      systemService,
		ingest:      pdf.NewIngestService(pageService, raster, uploadDir, uploadURL),
		serveTokens: cache.New(5*time.Minute, 10*time.Minute),
		uploadDir:   uploadDir,
		uploadURL:   uploadURL,
	}
}

// DB exposes the underlying gorm instance for legacy paths.
func (a *API) DB() *gorm.DB {
	return a.db
}
