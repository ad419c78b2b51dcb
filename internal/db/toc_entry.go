package db

import "gorm.io/gorm"

// TOCEntry 定义了目录条目，PageNumber 指向正文页编号而非封面。
type TOCEntry struct {
	gorm.Model
	YearbookID  uint `gorm:"index;not null"`
	Yearbook    Yearbook
	Title       string `gorm:"not null"`
	PageNumber  int    `gorm:"not null"`
	Description string `gorm:"type:text"` // Markdown，渲染时做净化
	Status      string `gorm:"default:published"`
}
