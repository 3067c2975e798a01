package services

import (
	"context"
	"testing"
	"time"

	"hrms/models"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var leaveToday = time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)

type leaveFixture struct {
	svc      *LeaveService
	dhr      *models.User
	hr       *models.User
	manager  *models.User
	lead     *models.User
	employee *models.User
	outsider *models.User
}

func newLeaveFixture(t *testing.T) *leaveFixture {
	t.Helper()
	db := newTestDB(t)
	f := &leaveFixture{svc: NewLeaveService(db, nil)}
	f.svc.now = fixedClock(leaveToday)

	sales := createDepartment(t, db, "Sales")
	ops := createDepartment(t, db, "Operations")
	f.dhr = createUser(t, db, models.RoleDHR)
	f.hr = createUser(t, db, models.RoleHR)
	f.manager = createUser(t, db, models.RoleManager, inDepartment(sales.ID))
	require.NoError(t, db.Model(sales).Update("manager_id", f.manager.ID).Error)
	f.lead = createUser(t, db, models.RoleTeamLeader, inDepartment(sales.ID))
	f.employee = createUser(t, db, models.RoleEmployee, inDepartment(sales.ID), supervisedBy(f.lead.ID),
		func(u *models.User) { u.LeaveBalance = 10 })
	f.outsider = createUser(t, db, models.RoleManager, inDepartment(ops.ID))
	return f
}

func (f *leaveFixture) request(t *testing.T, who *models.User, typ models.LeaveType, start, end string) *models.LeaveRequest {
	t.Helper()
	req, err := f.svc.Create(context.Background(), who, LeaveInput{Type: typ, StartDate: start, EndDate: end, Reason: "family"})
	require.NoError(t, err)
	return req
}

func TestCreateLeaveNotifiesApprovers(t *testing.T) {
	f := newLeaveFixture(t)
	db := f.svc.db

	req := f.request(t, f.employee, models.LeaveAnnual, "2026-03-09", "2026-03-13")
	assert.Equal(t, 5, req.Days)
	assert.Equal(t, models.LeavePending, req.Status)

	for _, u := range []*models.User{f.dhr, f.hr, f.manager, f.lead} {
		notes := notificationsFor(t, db, u.ID)
		require.Len(t, notes, 1, "user %d", u.ID)
		assert.Equal(t, models.NotificationLeaveRequested, notes[0].Type)
	}
	assert.Empty(t, notificationsFor(t, db, f.employee.ID))
	assert.Empty(t, notificationsFor(t, db, f.outsider.ID))

	// A request from HR never notifies its own author.
	f.request(t, f.hr, models.LeaveUnpaid, "2026-04-01", "2026-04-01")
	assert.Len(t, notificationsFor(t, db, f.hr.ID), 1)
	assert.Len(t, notificationsFor(t, db, f.dhr.ID), 2)
}

func TestCreateLeaveValidation(t *testing.T) {
	f := newLeaveFixture(t)
	ctx := context.Background()
	f.request(t, f.employee, models.LeaveUnpaid, "2026-03-10", "2026-03-12")

	tests := []struct {
		name    string
		in      LeaveInput
		invalid bool
		target  error
	}{
		{"unknown type", LeaveInput{Type: "HOLIDAY", StartDate: "2026-03-20", EndDate: "2026-03-20"}, true, nil},
		{"end before start", LeaveInput{Type: models.LeaveUnpaid, StartDate: "2026-03-20", EndDate: "2026-03-19"}, true, nil},
		{"in the past", LeaveInput{Type: models.LeaveUnpaid, StartDate: "2026-03-01", EndDate: "2026-03-03"}, true, nil},
		{"sick without reason", LeaveInput{Type: models.LeaveSick, StartDate: "2026-03-20", EndDate: "2026-03-20"}, true, nil},
		{"bad date", LeaveInput{Type: models.LeaveUnpaid, StartDate: "20/03/2026", EndDate: "2026-03-20"}, true, nil},
		{"over balance", LeaveInput{Type: models.LeaveAnnual, StartDate: "2026-03-20", EndDate: "2026-03-31"}, true, nil},
		{"overlap", LeaveInput{Type: models.LeaveUnpaid, StartDate: "2026-03-12", EndDate: "2026-03-14"}, false, ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, f.employee, tt.in)
			require.Error(t, err)
			if tt.invalid {
				var verr *ValidationError
				assert.True(t, errors.As(err, &verr), "got %v", err)
			} else {
				assert.True(t, errors.Is(err, tt.target), "got %v", err)
			}
		})
	}

	_, err := f.svc.Create(ctx, f.employee, LeaveInput{Type: models.LeaveUnpaid, StartDate: "2026-03-02", EndDate: "2026-03-02"})
	assert.NoError(t, err, "today is not in the past")
}

func TestApproveLeaveDeductsBalance(t *testing.T) {
	f := newLeaveFixture(t)
	ctx := context.Background()
	db := f.svc.db
	req := f.request(t, f.employee, models.LeaveAnnual, "2026-03-09", "2026-03-12")

	_, err := f.svc.Approve(ctx, f.outsider, req.ID, "")
	assert.True(t, errors.Is(err, ErrForbidden), "managers of other departments cannot review")

	approved, err := f.svc.Approve(ctx, f.lead, req.ID, "enjoy")
	require.NoError(t, err)
	assert.Equal(t, models.LeaveAccepted, approved.Status)
	require.NotNil(t, approved.ReviewedByID)
	assert.Equal(t, f.lead.ID, *approved.ReviewedByID)

	var reloaded models.User
	require.NoError(t, db.First(&reloaded, f.employee.ID).Error)
	assert.Equal(t, 6, reloaded.LeaveBalance)

	notes := notificationsFor(t, db, f.employee.ID)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationLeaveAccepted, notes[0].Type)

	_, err = f.svc.Approve(ctx, f.hr, req.ID, "")
	assert.True(t, errors.Is(err, ErrConflict), "only pending requests transition")
	_, err = f.svc.Decline(ctx, f.hr, req.ID, "too late")
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestApproveRechecksBalance(t *testing.T) {
	f := newLeaveFixture(t)
	ctx := context.Background()
	req := f.request(t, f.employee, models.LeaveAnnual, "2026-03-09", "2026-03-16")
	require.NoError(t, f.svc.db.Model(f.employee).Update("leave_balance", 3).Error)

	_, err := f.svc.Approve(ctx, f.hr, req.ID, "")
	assert.True(t, errors.Is(err, ErrConflict))

	reloaded, err := f.svc.Get(ctx, f.employee, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeavePending, reloaded.Status)
}

func TestDeclineLeaveRequiresComment(t *testing.T) {
	f := newLeaveFixture(t)
	ctx := context.Background()
	req := f.request(t, f.employee, models.LeaveAnnual, "2026-03-09", "2026-03-09")

	_, err := f.svc.Decline(ctx, f.manager, req.ID, "   ")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "comment")

	declined, err := f.svc.Decline(ctx, f.manager, req.ID, "peak season")
	require.NoError(t, err)
	assert.Equal(t, models.LeaveDeclined, declined.Status)
	assert.Equal(t, "peak season", declined.Comment)

	var reloaded models.User
	require.NoError(t, f.svc.db.First(&reloaded, f.employee.ID).Error)
	assert.Equal(t, 10, reloaded.LeaveBalance, "declining leaves the balance alone")

	notes := notificationsFor(t, f.svc.db, f.employee.ID)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationLeaveDeclined, notes[0].Type)
	assert.Contains(t, notes[0].Message, "peak season")
}

func TestReviewOwnRequestForbidden(t *testing.T) {
	f := newLeaveFixture(t)
	req := f.request(t, f.hr, models.LeaveUnpaid, "2026-03-09", "2026-03-09")
	_, err := f.svc.Approve(context.Background(), f.hr, req.ID, "")
	assert.True(t, errors.Is(err, ErrForbidden))
}

func TestManagerCannotReviewHigherRank(t *testing.T) {
	f := newLeaveFixture(t)
	ctx := context.Background()
	deptHR := createUser(t, f.svc.db, models.RoleHR, inDepartment(*f.manager.DepartmentID))
	req := f.request(t, deptHR, models.LeaveUnpaid, "2026-03-09", "2026-03-09")
	assert.Empty(t, notificationsFor(t, f.svc.db, f.manager.ID), "only reviewers are notified")

	_, err := f.svc.Approve(ctx, f.manager, req.ID, "")
	assert.True(t, errors.Is(err, ErrForbidden))
	_, err = f.svc.Decline(ctx, f.manager, req.ID, "no")
	assert.True(t, errors.Is(err, ErrForbidden))

	listed, err := f.svc.ListReviewable(ctx, f.manager, LeaveFilter{})
	require.NoError(t, err)
	assert.Empty(t, listed)

	_, err = f.svc.Approve(ctx, f.dhr, req.ID, "")
	assert.NoError(t, err)
}

func TestListReviewable(t *testing.T) {
	f := newLeaveFixture(t)
	ctx := context.Background()
	mine := f.request(t, f.employee, models.LeaveUnpaid, "2026-03-09", "2026-03-09")
	f.request(t, f.outsider, models.LeaveUnpaid, "2026-03-09", "2026-03-09")

	all, err := f.svc.ListReviewable(ctx, f.hr, LeaveFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := f.svc.ListReviewable(ctx, f.manager, LeaveFilter{Status: models.LeavePending})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, mine.ID, scoped[0].ID)

	reports, err := f.svc.ListReviewable(ctx, f.lead, LeaveFilter{})
	require.NoError(t, err)
	assert.Len(t, reports, 1)

	_, err = f.svc.ListReviewable(ctx, f.employee, LeaveFilter{})
	assert.True(t, errors.Is(err, ErrForbidden))

	own, err := f.svc.ListMine(ctx, f.employee, "")
	require.NoError(t, err)
	assert.Len(t, own, 1)

	_, err = f.svc.Get(ctx, f.outsider, mine.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeleteLeave(t *testing.T) {
	f := newLeaveFixture(t)
	ctx := context.Background()
	pending := f.request(t, f.employee, models.LeaveUnpaid, "2026-03-09", "2026-03-09")
	decided := f.request(t, f.employee, models.LeaveUnpaid, "2026-03-16", "2026-03-16")
	_, err := f.svc.Approve(ctx, f.hr, decided.ID, "")
	require.NoError(t, err)

	assert.True(t, errors.Is(f.svc.Delete(ctx, f.hr, pending.ID), ErrForbidden))
	assert.True(t, errors.Is(f.svc.Delete(ctx, f.employee, decided.ID), ErrConflict))
	require.NoError(t, f.svc.Delete(ctx, f.employee, pending.ID))
	assert.True(t, errors.Is(f.svc.Delete(ctx, f.employee, pending.ID), ErrNotFound))
}
