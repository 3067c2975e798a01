package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func uintPtr(v uint) *uint { return &v }

func TestRoleRank(t *testing.T) {
	for i := 1; i < len(Roles); i++ {
		assert.Greater(t, Roles[i-1].Rank(), Roles[i].Rank(), "%s should outrank %s", Roles[i-1], Roles[i])
	}
	assert.False(t, Role("ADMIN").Valid())
}

func TestUser_CanAssignRole(t *testing.T) {
	dhr := &User{Role: RoleDHR}
	hr := &User{Role: RoleHR}
	manager := &User{Role: RoleManager}

	assert.True(t, dhr.CanAssignRole(RoleDHR))
	assert.True(t, hr.CanAssignRole(RoleManager))
	assert.False(t, hr.CanAssignRole(RoleHR))
	assert.False(t, hr.CanAssignRole(RoleDHR))
	assert.True(t, manager.CanAssignRole(RoleEmployee))
	assert.False(t, dhr.CanAssignRole(Role("ROOT")))
}

func TestUser_CanManage(t *testing.T) {
	dhr := &User{ID: 1, Role: RoleDHR}
	hr := &User{ID: 2, Role: RoleHR}
	otherHR := &User{ID: 3, Role: RoleHR}
	emp := &User{ID: 4, Role: RoleEmployee}

	assert.True(t, dhr.CanManage(hr))
	assert.False(t, dhr.CanManage(dhr), "nobody manages themselves")
	assert.True(t, hr.CanManage(emp))
	assert.False(t, hr.CanManage(otherHR))
	assert.False(t, emp.CanManage(hr))
}

func TestUser_CanReviewLeaveOf(t *testing.T) {
	sales := uintPtr(10)
	support := uintPtr(20)

	hr := &User{ID: 1, Role: RoleHR}
	manager := &User{ID: 2, Role: RoleManager, DepartmentID: sales}
	leader := &User{ID: 3, Role: RoleTeamLeader, DepartmentID: sales}
	report := &User{ID: 4, Role: RoleEmployee, DepartmentID: sales, SupervisorID: uintPtr(3)}
	outsider := &User{ID: 5, Role: RoleEmployee, DepartmentID: support}
	deptHR := &User{ID: 6, Role: RoleHR, DepartmentID: sales}
	deptDHR := &User{ID: 7, Role: RoleDHR, DepartmentID: sales}
	peer := &User{ID: 8, Role: RoleManager, DepartmentID: sales}
	seniorReport := &User{ID: 9, Role: RoleManager, DepartmentID: sales, SupervisorID: uintPtr(3)}

	tests := []struct {
		name      string
		reviewer  *User
		requester *User
		want      bool
	}{
		{"manager cannot review hr in department", manager, deptHR, false},
		{"manager cannot review dhr in department", manager, deptDHR, false},
		{"manager cannot review peer manager", manager, peer, false},
		{"team leader cannot review higher-ranked report", leader, seniorReport, false},
		{"hr reviews anyone", hr, outsider, true},
		{"hr cannot review self", hr, hr, false},
		{"manager reviews own department", manager, report, true},
		{"manager cannot review other department", manager, outsider, false},
		{"team leader reviews direct report", leader, report, true},
		{"team leader cannot review peer", leader, outsider, false},
		{"employee reviews nobody", report, outsider, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.reviewer.CanReviewLeaveOf(tc.requester))
		})
	}
}

func TestUser_CanView(t *testing.T) {
	sales := uintPtr(10)

	manager := &User{ID: 1, Role: RoleManager, DepartmentID: sales}
	leader := &User{ID: 2, Role: RoleTeamLeader, DepartmentID: sales}
	report := &User{ID: 3, Role: RoleEmployee, DepartmentID: sales, SupervisorID: uintPtr(2)}
	deptHR := &User{ID: 4, Role: RoleHR, DepartmentID: sales}
	seniorReport := &User{ID: 5, Role: RoleManager, DepartmentID: sales, SupervisorID: uintPtr(2)}

	assert.True(t, manager.CanView(manager))
	assert.True(t, manager.CanView(report))
	assert.True(t, manager.CanView(leader))
	assert.False(t, manager.CanView(deptHR))
	assert.True(t, leader.CanView(report))
	assert.False(t, leader.CanView(seniorReport))
	assert.True(t, deptHR.CanView(manager))
}

func TestRole_Below(t *testing.T) {
	assert.Equal(t, []Role{RoleTeamLeader, RoleEmployee}, RoleManager.Below())
	assert.Empty(t, RoleEmployee.Below())
	assert.NotContains(t, RoleDHR.Below(), RoleDHR)
}

func TestShift_Duration(t *testing.T) {
	day := Shift{StartTime: "08:00", EndTime: "16:30"}
	night := Shift{StartTime: "22:00", EndTime: "06:00"}

	assert.Equal(t, 8*time.Hour+30*time.Minute, day.Duration())
	assert.False(t, day.Overnight())
	assert.Equal(t, 8*time.Hour, night.Duration())
	assert.True(t, night.Overnight())
}

func TestLeaveDays(t *testing.T) {
	start := time.Date(2026, 3, 30, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, LeaveDays(start, start))
	assert.Equal(t, 5, LeaveDays(start, start.AddDate(0, 0, 4)))

	req := LeaveRequest{StartDate: start, EndDate: start.AddDate(0, 0, 2)}
	assert.True(t, req.Covers(start.AddDate(0, 0, 2)))
	assert.False(t, req.Covers(start.AddDate(0, 0, 3)))
}
