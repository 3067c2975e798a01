package models

import (
	"time"
)

type Department struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Name        string     `gorm:"uniqueIndex;not null;size:100" json:"name"`
	Description string     `gorm:"size:500" json:"description"`
	ManagerID   *uint      `gorm:"index" json:"manager_id"`
	Manager     *User      `gorm:"foreignKey:ManagerID" json:"manager,omitempty"`
	Positions   []Position `gorm:"foreignKey:DepartmentID" json:"positions,omitempty"`
}

type Position struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	Title        string      `gorm:"not null;size:100;uniqueIndex:idx_positions_department_title" json:"title"`
	Description  string      `gorm:"size:500" json:"description"`
	DepartmentID *uint       `gorm:"uniqueIndex:idx_positions_department_title" json:"department_id"`
	Department   *Department `gorm:"foreignKey:DepartmentID" json:"department,omitempty"`
}
