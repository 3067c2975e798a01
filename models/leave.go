package models

import (
	"time"
)

type LeaveStatus string

const (
	LeavePending  LeaveStatus = "PENDING"
	LeaveAccepted LeaveStatus = "ACCEPTED"
	LeaveDeclined LeaveStatus = "DECLINED"
)

type LeaveType string

const (
	LeaveAnnual    LeaveType = "ANNUAL"
	LeaveSick      LeaveType = "SICK"
	LeaveMaternity LeaveType = "MATERNITY"
	LeaveUnpaid    LeaveType = "UNPAID"
	LeaveOther     LeaveType = "OTHER"
)

func (t LeaveType) Valid() bool {
	switch t {
	case LeaveAnnual, LeaveSick, LeaveMaternity, LeaveUnpaid, LeaveOther:
		return true
	}
	return false
}

// ConsumesBalance reports whether accepted leave of this type is deducted
// from the employee's yearly allowance.
func (t LeaveType) ConsumesBalance() bool {
	return t == LeaveAnnual
}

type LeaveRequest struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	UserID       uint        `gorm:"not null;index" json:"user_id"`
	User         *User       `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Type         LeaveType   `gorm:"not null;size:20" json:"type"`
	StartDate    time.Time   `gorm:"not null;type:date;index" json:"start_date"`
	EndDate      time.Time   `gorm:"not null;type:date;index" json:"end_date"`
	Days         int         `gorm:"not null" json:"days"`
	Reason       string      `gorm:"size:1000" json:"reason"`
	Status       LeaveStatus `gorm:"not null;size:20;index;default:'PENDING'" json:"status"`
	Comment      string      `gorm:"size:1000" json:"comment"`
	ReviewedByID *uint       `json:"reviewed_by_id"`
	ReviewedBy   *User       `gorm:"foreignKey:ReviewedByID" json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time  `json:"reviewed_at,omitempty"`
}

// Covers reports whether day falls inside the request's inclusive range.
func (l *LeaveRequest) Covers(day time.Time) bool {
	return !day.Before(l.StartDate) && !day.After(l.EndDate)
}

// LeaveDays counts inclusive calendar days between two dates.
func LeaveDays(start, end time.Time) int {
	return int(end.Sub(start).Hours()/24) + 1
}
