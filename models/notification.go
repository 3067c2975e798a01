package models

import (
	"time"
)

type NotificationType string

const (
	NotificationLeaveRequested NotificationType = "LEAVE_REQUESTED"
	NotificationLeaveAccepted  NotificationType = "LEAVE_ACCEPTED"
	NotificationLeaveDeclined  NotificationType = "LEAVE_DECLINED"
	NotificationSchedule       NotificationType = "SCHEDULE"
	NotificationDocument       NotificationType = "DOCUMENT"
	NotificationAccount        NotificationType = "ACCOUNT"
)

type Notification struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	UserID    uint             `gorm:"not null;index" json:"user_id"`
	Type      NotificationType `gorm:"not null;size:30" json:"type"`
	Title     string           `gorm:"not null;size:200" json:"title"`
	Message   string           `gorm:"not null;size:1000" json:"message"`
	Link      string           `gorm:"size:300" json:"link"`
	IsRead    bool             `gorm:"not null;default:false;index" json:"is_read"`
	ReadAt    *time.Time       `json:"read_at,omitempty"`
}
