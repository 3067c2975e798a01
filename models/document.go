package models

import (
	"time"
)

type DocumentCategory struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Name        string    `gorm:"uniqueIndex;not null;size:100" json:"name"`
	Description string    `gorm:"size:300" json:"description"`
}

type Document struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Title        string            `gorm:"not null;size:200" json:"title"`
	FileName     string            `gorm:"not null;size:255" json:"file_name"`
	StorageKey   string            `gorm:"uniqueIndex;not null;size:100" json:"-"`
	MimeType     string            `gorm:"size:100" json:"mime_type"`
	Size         int64             `json:"size"`
	CategoryID   *uint             `gorm:"index" json:"category_id"`
	Category     *DocumentCategory `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	OwnerID      uint              `gorm:"not null;index" json:"owner_id"`
	Owner        *User             `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	UploadedByID uint              `gorm:"not null" json:"uploaded_by_id"`
	UploadedBy   *User             `gorm:"foreignKey:UploadedByID" json:"uploaded_by,omitempty"`
}
