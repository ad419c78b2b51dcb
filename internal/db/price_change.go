package db

import "gorm.io/gorm"

// PriceChange 记录一次定价调整，只追加，不修改也不删除。
type PriceChange struct {
	gorm.Model
	YearbookID uint `gorm:"index;not null"`
	Yearbook   Yearbook
	OldPrice   string
	NewPrice   string
	UserID     uint
	User       User
}

// TableName 指定自定义表名。
func (PriceChange) TableName() string {
	return "price_changes"
}
