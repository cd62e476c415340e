package models

import "time"

// Asset is the catalog row that normalizes asset names to integer ids.
// Identity is immutable once created; every monetary table references
// assets by id rather than repeating the symbol string.
type Asset struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;size:16;not null;uniqueIndex:uq_assets_name"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName overrides the default pluralization.
func (Asset) TableName() string {
	return "assets"
}
