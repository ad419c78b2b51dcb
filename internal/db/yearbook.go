package db

import (
	"time"

	"gorm.io/gorm"
)

const (
	// OrientationPortrait 表示竖版年册。
	OrientationPortrait = "portrait"
	// OrientationLandscape 表示横版年册。
	OrientationLandscape = "landscape"

	// UploadTypeImage 表示逐张上传图片的年册。
	UploadTypeImage = "image"
	// UploadTypePDF 表示整本 PDF 拆页的年册。
	UploadTypePDF = "pdf"
)

// Yearbook 定义了一届年册的出版主档
type Yearbook struct {
	gorm.Model
	SchoolID            uint `gorm:"index;not null"`
	Year                int  `gorm:"not null"`
	Title               string
	Orientation         string // portrait, landscape, 空串表示未选择
	UploadType          string // image, pdf, 空串表示未选择
	IsInitialized       bool   `gorm:"default:false"`
	IsPublished         bool   `gorm:"default:false"`
	PublishedAt         *time.Time
	Price               string // 十进制字符串，空串表示未定价
	LastPriceIncreaseAt *time.Time
	FrontCoverURL       string
	BackCoverURL        string
	DraftTouchedAt      *time.Time // 自动保存的最近触达时间，仅作运维信号
}
