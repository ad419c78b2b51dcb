package db

import "gorm.io/gorm"

const (
	// PageTypeFrontCover 表示封面页。
	PageTypeFrontCover = "front_cover"
	// PageTypeBackCover 表示封底页。
	PageTypeBackCover = "back_cover"
	// PageTypeContent 表示正文内容页。
	PageTypeContent = "content"

	// PageStatusPublished 表示对付费读者可见。
	PageStatusPublished = "published"
	// PageStatusDraft 表示已入库但尚未保存发布的草稿页。
	PageStatusDraft = "draft"
	// PageStatusDraftDeleted 表示草稿状态下被删除、等待保存或放弃的页。
	PageStatusDraftDeleted = "draft_deleted"
)

// YearbookPage 定义了年册中的一页。
// 封面与封底的 PageNumber 恒为 0，不参与正文编号序列。
type YearbookPage struct {
	gorm.Model
	YearbookID uint `gorm:"index;not null"`
	Yearbook   Yearbook
	PageNumber int    `gorm:"default:0"`
	PageType   string `gorm:"not null"` // front_cover, back_cover, content
	Title      string
	ImageURL   string `gorm:"not null"`
	ThumbURL   string
	Status     string `gorm:"default:published"` // published, draft, draft_deleted
	PDFBatchID string `gorm:"index"`             // 同一次 PDF 拆页产生的页共享批次号
}

// IsCover 返回该页是否为封面或封底。
func (p YearbookPage) IsCover() bool {
	return p.PageType == PageTypeFrontCover || p.PageType == PageTypeBackCover
}
