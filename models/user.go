package models

import (
	"time"
)

type Role string

const (
	RoleDHR        Role = "DHR"
	RoleHR         Role = "HR"
	RoleManager    Role = "MANAGER"
	RoleTeamLeader Role = "TEAM_LEADER"
	RoleEmployee   Role = "EMPLOYEE"
)

// Roles lists every role from the top of the hierarchy down.
var Roles = []Role{RoleDHR, RoleHR, RoleManager, RoleTeamLeader, RoleEmployee}

// Rank orders roles; a higher rank outranks a lower one. Unknown roles rank 0.
func (r Role) Rank() int {
	switch r {
	case RoleDHR:
		return 5
	case RoleHR:
		return 4
	case RoleManager:
		return 3
	case RoleTeamLeader:
		return 2
	case RoleEmployee:
		return 1
	}
	return 0
}

func (r Role) Valid() bool {
	return r.Rank() > 0
}

// Below lists the roles r outranks.
func (r Role) Below() []Role {
	var below []Role
	for _, role := range Roles {
		if role.Rank() < r.Rank() {
			below = append(below, role)
		}
	}
	return below
}

func (u *User) outranks(target *User) bool {
	return target.Role.Rank() < u.Role.Rank()
}

type UserStatus string

const (
	StatusActive   UserStatus = "ACTIVE"
	StatusInactive UserStatus = "INACTIVE"
)

type User struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	CIN          string      `gorm:"uniqueIndex;not null;size:20" json:"cin"`
	Email        string      `gorm:"uniqueIndex;not null;size:200" json:"email"`
	FirstName    string      `gorm:"not null;size:100" json:"first_name"`
	LastName     string      `gorm:"not null;size:100" json:"last_name"`
	Phone        string      `gorm:"size:30" json:"phone"`
	Address      string      `gorm:"size:300" json:"address"`
	BirthDate    *time.Time  `gorm:"type:date" json:"birth_date,omitempty"`
	HireDate     *time.Time  `gorm:"type:date" json:"hire_date,omitempty"`
	Role         Role        `gorm:"not null;size:20;index" json:"role"`
	Status       UserStatus  `gorm:"not null;size:20;default:'ACTIVE'" json:"status"`
	DepartmentID *uint       `gorm:"index" json:"department_id"`
	Department   *Department `gorm:"foreignKey:DepartmentID" json:"department,omitempty"`
	PositionID   *uint       `gorm:"index" json:"position_id"`
	Position     *Position   `gorm:"foreignKey:PositionID" json:"position,omitempty"`
	SupervisorID *uint       `gorm:"index" json:"supervisor_id"`
	Supervisor   *User       `gorm:"foreignKey:SupervisorID" json:"supervisor,omitempty"`
	LeaveBalance int         `gorm:"not null;default:0" json:"leave_balance"`
	LastLoginAt  *time.Time  `json:"last_login_at,omitempty"`

	PasswordHash       string `gorm:"not null" json:"-"`
	MustChangePassword bool   `gorm:"not null" json:"must_change_password"`

	TwoFactorEnabled       bool   `gorm:"default:false" json:"two_factor_enabled"`
	TwoFactorSecret        string `gorm:"size:64" json:"-"`
	PendingTwoFactorSecret string `gorm:"size:64" json:"-"`

	ResetCodeHash      string     `json:"-"`
	ResetCodeExpiresAt *time.Time `json:"-"`
	ResetTokenID       string     `gorm:"size:36" json:"-"`
	ResetAttempts      int        `gorm:"not null;default:0" json:"-"`
}

func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}

func (u *User) IsActive() bool {
	return u.Status == StatusActive
}

func (u *User) IsHR() bool {
	return u.Role == RoleHR || u.Role == RoleDHR
}

func (u *User) IsManager() bool {
	return u.Role == RoleManager
}

func (u *User) IsTeamLeader() bool {
	return u.Role == RoleTeamLeader
}

// CanAssignRole reports whether u may create or promote an account to role.
// DHR may assign anything; everyone else only roles strictly below their own.
func (u *User) CanAssignRole(role Role) bool {
	if u.Role == RoleDHR {
		return role.Valid()
	}
	return role.Valid() && role.Rank() < u.Role.Rank()
}

// CanManage reports whether u may edit or delete target's record.
func (u *User) CanManage(target *User) bool {
	if u.ID == target.ID {
		return false
	}
	if u.Role == RoleDHR {
		return true
	}
	return u.IsHR() && target.Role.Rank() < u.Role.Rank()
}

// CanView reports whether u may read target's employee record. Managers and
// team leaders only see staff ranked below them.
func (u *User) CanView(target *User) bool {
	switch {
	case u.ID == target.ID, u.IsHR():
		return true
	case u.IsManager():
		return u.outranks(target) && u.DepartmentID != nil && target.DepartmentID != nil && *u.DepartmentID == *target.DepartmentID
	case u.IsTeamLeader():
		return u.outranks(target) && target.SupervisorID != nil && *target.SupervisorID == u.ID
	}
	return false
}

// CanReviewLeaveOf reports whether u may accept or decline requester's leave.
func (u *User) CanReviewLeaveOf(requester *User) bool {
	if u.ID == requester.ID {
		return false
	}
	switch {
	case u.IsHR():
		return true
	case u.IsManager():
		return u.outranks(requester) && u.DepartmentID != nil && requester.DepartmentID != nil && *u.DepartmentID == *requester.DepartmentID
	case u.IsTeamLeader():
		return u.outranks(requester) && requester.SupervisorID != nil && *requester.SupervisorID == u.ID
	}
	return false
}
