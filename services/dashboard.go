package services

import (
	"context"
	"time"

	"hrms/models"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const upcomingShiftDays = 7

type DashboardService struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

func NewDashboardService(db *gorm.DB, log *zap.Logger) *DashboardService {
	return &DashboardService{db: db, log: orNop(log), now: time.Now}
}

type DepartmentHeadcount struct {
	DepartmentID uint   `json:"department_id"`
	Name         string `json:"name"`
	Headcount    int64  `json:"headcount"`
}

type Overview struct {
	Headcount       int64                 `json:"headcount"`
	ActiveHeadcount int64                 `json:"active_headcount"`
	Departments     int64                 `json:"departments"`
	Positions       int64                 `json:"positions"`
	PendingLeave    int64                 `json:"pending_leave_requests"`
	OnLeaveToday    int64                 `json:"on_leave_today"`
	ScheduledToday  int64                 `json:"scheduled_today"`
	ByDepartment    []DepartmentHeadcount `json:"by_department"`
}

type Personal struct {
	LeaveBalance        int               `json:"leave_balance"`
	PendingRequests     int64             `json:"pending_requests"`
	UpcomingShifts      []models.Schedule `json:"upcoming_shifts"`
	UnreadNotifications int64             `json:"unread_notifications"`
}

// Overview aggregates organisation figures. Managers only see their own
// department.
func (s *DashboardService) Overview(ctx context.Context, actor *models.User) (*Overview, error) {
	var deptID *uint
	switch {
	case actor.IsHR():
	case actor.IsManager() && actor.DepartmentID != nil:
		deptID = actor.DepartmentID
	default:
		return nil, ErrForbidden
	}
	today := Today(s.now())

	// people narrows a query already joined to users.
	people := func(q *gorm.DB) *gorm.DB {
		if deptID != nil {
			return q.Where("users.department_id = ?", *deptID)
		}
		return q
	}

	out := &Overview{}
	g, gctx := errgroup.WithContext(ctx)
	count := func(dest *int64, what string, build func(db *gorm.DB) *gorm.DB) {
		g.Go(func() error {
			return errors.Wrap(build(s.db.WithContext(gctx)).Count(dest).Error, what)
		})
	}

	count(&out.Headcount, "count employees", func(db *gorm.DB) *gorm.DB {
		return people(db.Model(&models.User{}))
	})
	count(&out.ActiveHeadcount, "count active employees", func(db *gorm.DB) *gorm.DB {
		return people(db.Model(&models.User{}).Where("users.status = ?", models.StatusActive))
	})
	count(&out.Departments, "count departments", func(db *gorm.DB) *gorm.DB {
		q := db.Model(&models.Department{})
		if deptID != nil {
			q = q.Where("id = ?", *deptID)
		}
		return q
	})
	count(&out.Positions, "count positions", func(db *gorm.DB) *gorm.DB {
		q := db.Model(&models.Position{})
		if deptID != nil {
			q = q.Where("department_id = ?", *deptID)
		}
		return q
	})
	count(&out.PendingLeave, "count pending leave", func(db *gorm.DB) *gorm.DB {
		return people(db.Model(&models.LeaveRequest{}).
			Joins("JOIN users ON users.id = leave_requests.user_id").
			Where("leave_requests.status = ?", models.LeavePending))
	})
	count(&out.OnLeaveToday, "count employees on leave", func(db *gorm.DB) *gorm.DB {
		return people(db.Model(&models.LeaveRequest{}).
			Joins("JOIN users ON users.id = leave_requests.user_id").
			Where("leave_requests.status = ? AND leave_requests.start_date <= ? AND leave_requests.end_date >= ?",
				models.LeaveAccepted, today, today)).
			Distinct("leave_requests.user_id")
	})
	count(&out.ScheduledToday, "count scheduled employees", func(db *gorm.DB) *gorm.DB {
		return people(db.Model(&models.Schedule{}).
			Joins("JOIN users ON users.id = schedules.user_id").
			Where("schedules.date = ?", today))
	})
	g.Go(func() error {
		q := s.db.WithContext(gctx).Model(&models.Department{}).
			Select("departments.id AS department_id, departments.name AS name, COUNT(users.id) AS headcount").
			Joins("LEFT JOIN users ON users.department_id = departments.id").
			Group("departments.id, departments.name").
			Order("departments.name asc")
		if deptID != nil {
			q = q.Where("departments.id = ?", *deptID)
		}
		return errors.Wrap(q.Scan(&out.ByDepartment).Error, "count headcount per department")
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Personal gathers the figures shown on every user's own dashboard.
func (s *DashboardService) Personal(ctx context.Context, actor *models.User) (*Personal, error) {
	today := Today(s.now())
	until := today.AddDate(0, 0, upcomingShiftDays-1)

	out := &Personal{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var u models.User
		if err := s.db.WithContext(gctx).Select("id", "leave_balance").First(&u, actor.ID).Error; err != nil {
			return notFound(err, "load leave balance")
		}
		out.LeaveBalance = u.LeaveBalance
		return nil
	})
	g.Go(func() error {
		err := s.db.WithContext(gctx).Model(&models.LeaveRequest{}).
			Where("user_id = ? AND status = ?", actor.ID, models.LeavePending).
			Count(&out.PendingRequests).Error
		return errors.Wrap(err, "count pending requests")
	})
	g.Go(func() error {
		err := s.db.WithContext(gctx).Preload("Shift").
			Where("user_id = ? AND date >= ? AND date <= ?", actor.ID, today, until).
			Order("date asc").
			Find(&out.UpcomingShifts).Error
		return errors.Wrap(err, "load upcoming shifts")
	})
	g.Go(func() error {
		err := s.db.WithContext(gctx).Model(&models.Notification{}).
			Where("user_id = ? AND is_read = ?", actor.ID, false).
			Count(&out.UnreadNotifications).Error
		return errors.Wrap(err, "count unread notifications")
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if out.UpcomingShifts == nil {
		out.UpcomingShifts = []models.Schedule{}
	}
	return out, nil
}
