package models

import (
	"time"
)

// ClockLayout is the wire and storage format of shift boundaries.
const ClockLayout = "15:04"

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

type Shift struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Name        string    `gorm:"uniqueIndex;not null;size:100" json:"name"`
	StartTime   string    `gorm:"not null;size:5" json:"start_time"`
	EndTime     string    `gorm:"not null;size:5" json:"end_time"`
	Description string    `gorm:"size:300" json:"description"`
}

// Overnight reports whether the shift ends on the following day.
func (s *Shift) Overnight() bool {
	return s.EndTime < s.StartTime
}

// Duration returns the shift length; overnight shifts wrap past midnight.
func (s *Shift) Duration() time.Duration {
	start, err1 := time.Parse(ClockLayout, s.StartTime)
	end, err2 := time.Parse(ClockLayout, s.EndTime)
	if err1 != nil || err2 != nil {
		return 0
	}
	d := end.Sub(start)
	if d <= 0 {
		d += 24 * time.Hour
	}
	return d
}

type Schedule struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_schedules_user_date" json:"user_id"`
	User      *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	ShiftID   uint      `gorm:"not null;index" json:"shift_id"`
	Shift     *Shift    `gorm:"foreignKey:ShiftID" json:"shift,omitempty"`
	Date      time.Time `gorm:"not null;type:date;uniqueIndex:idx_schedules_user_date;index" json:"date"`
	Note      string    `gorm:"size:300" json:"note"`
}
