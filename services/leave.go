package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hrms/models"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type LeaveService struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

func NewLeaveService(db *gorm.DB, log *zap.Logger) *LeaveService {
	return &LeaveService{db: db, log: orNop(log), now: time.Now}
}

type LeaveInput struct {
	Type      models.LeaveType `json:"type"`
	StartDate string           `json:"start_date"`
	EndDate   string           `json:"end_date"`
	Reason    string           `json:"reason"`
}

type LeaveFilter struct {
	Status models.LeaveStatus
	UserID uint
}

// Create files a leave request for actor and notifies everybody allowed to
// decide on it.
func (s *LeaveService) Create(ctx context.Context, actor *models.User, in LeaveInput) (*models.LeaveRequest, error) {
	v := &ValidationError{}
	if !in.Type.Valid() {
		v.Add("type", "is not a known leave type")
	}
	start, err := ParseDate(in.StartDate)
	if err != nil {
		v.Add("start_date", "must be a YYYY-MM-DD date")
	}
	end, err := ParseDate(in.EndDate)
	if err != nil {
		v.Add("end_date", "must be a YYYY-MM-DD date")
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" && (in.Type == models.LeaveSick || in.Type == models.LeaveOther) {
		v.Add("reason", "is required for this leave type")
	}
	if v.HasErrors() {
		return nil, v
	}
	if end.Before(start) {
		return nil, invalid("end_date", "must not be before start_date")
	}
	if start.Before(Today(s.now())) {
		return nil, invalid("start_date", "must not be in the past")
	}

	days := models.LeaveDays(start, end)
	db := s.db.WithContext(ctx)

	overlap, err := exists(db, &models.LeaveRequest{},
		"user_id = ? AND status IN ? AND start_date <= ? AND end_date >= ?",
		actor.ID, []models.LeaveStatus{models.LeavePending, models.LeaveAccepted}, end, start)
	if err != nil {
		return nil, err
	}
	if overlap {
		return nil, errors.Wrap(ErrConflict, "overlaps an existing leave request")
	}

	if in.Type.ConsumesBalance() {
		var owner models.User
		if err := db.Select("id", "leave_balance").First(&owner, actor.ID).Error; err != nil {
			return nil, notFound(err, "load leave balance")
		}
		if balance := owner.LeaveBalance; days > balance {
			return nil, invalid("end_date", fmt.Sprintf("requested %d days but only %d remain", days, balance))
		}
	}

	approvers, err := s.approvers(ctx, actor)
	if err != nil {
		return nil, err
	}

	req := &models.LeaveRequest{
		UserID:    actor.ID,
		Type:      in.Type,
		StartDate: start,
		EndDate:   end,
		Days:      days,
		Reason:    reason,
		Status:    models.LeavePending,
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(req).Error; err != nil {
			return errors.Wrap(err, "create leave request")
		}
		return NotifyTx(tx, approvers, Notice{
			Type:  models.NotificationLeaveRequested,
			Title: "New leave request",
			Message: fmt.Sprintf("%s requested %d day(s) of %s leave from %s to %s.",
				actor.FullName(), days, strings.ToLower(string(in.Type)),
				start.Format(models.DateLayout), end.Format(models.DateLayout)),
			Link: fmt.Sprintf("/leave-requests/%d", req.ID),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("leave requested",
		zap.Uint("leave_id", req.ID),
		zap.Uint("user_id", actor.ID),
		zap.String("type", string(req.Type)),
		zap.Int("days", days),
		zap.Int("approvers", len(approvers)))
	return req, nil
}

// approvers lists the active HR staff, the manager of the requester's
// department and the requester's supervisor, keeping only those who may
// review the request.
func (s *LeaveService) approvers(ctx context.Context, requester *models.User) ([]uint, error) {
	db := s.db.WithContext(ctx)

	var ids []uint
	err := db.Model(&models.User{}).
		Where("role IN ? AND status = ?", []models.Role{models.RoleHR, models.RoleDHR}, models.StatusActive).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "load hr staff")
	}
	if requester.DepartmentID != nil {
		var managers []uint
		err := db.Model(&models.Department{}).
			Where("id = ? AND manager_id IS NOT NULL", *requester.DepartmentID).
			Pluck("manager_id", &managers).Error
		if err != nil {
			return nil, errors.Wrap(err, "load department manager")
		}
		ids = append(ids, managers...)
	}
	if requester.SupervisorID != nil {
		ids = append(ids, *requester.SupervisorID)
	}

	var candidates []models.User
	if err := db.Where("id IN ?", ids).Find(&candidates).Error; err != nil {
		return nil, errors.Wrap(err, "load approvers")
	}
	reviewers := make(map[uint]struct{}, len(candidates))
	for i := range candidates {
		if candidates[i].CanReviewLeaveOf(requester) {
			reviewers[candidates[i].ID] = struct{}{}
		}
	}

	out := ids[:0]
	for _, id := range ids {
		if _, ok := reviewers[id]; !ok {
			continue
		}
		delete(reviewers, id)
		out = append(out, id)
	}
	return out, nil
}

func (s *LeaveService) ListMine(ctx context.Context, actor *models.User, status models.LeaveStatus) ([]models.LeaveRequest, error) {
	query := s.db.WithContext(ctx).Preload("ReviewedBy").Where("user_id = ?", actor.ID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var out []models.LeaveRequest
	if err := query.Order("start_date desc, id desc").Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "list leave requests")
	}
	return out, nil
}

// ListReviewable returns the requests actor may decide on: everything for
// HR staff, the lower-ranked department staff for managers and lower-ranked
// direct reports for team leaders.
func (s *LeaveService) ListReviewable(ctx context.Context, actor *models.User, f LeaveFilter) ([]models.LeaveRequest, error) {
	query := s.db.WithContext(ctx).
		Joins("JOIN users ON users.id = leave_requests.user_id").
		Preload("User").Preload("ReviewedBy").
		Where("leave_requests.user_id <> ?", actor.ID)

	switch {
	case actor.IsHR():
	case actor.IsManager() && actor.DepartmentID != nil:
		query = query.Where("users.department_id = ? AND users.role IN ?", *actor.DepartmentID, actor.Role.Below())
	case actor.IsTeamLeader():
		query = query.Where("users.supervisor_id = ? AND users.role IN ?", actor.ID, actor.Role.Below())
	default:
		return nil, ErrForbidden
	}
	if f.Status != "" {
		query = query.Where("leave_requests.status = ?", f.Status)
	}
	if f.UserID != 0 {
		query = query.Where("leave_requests.user_id = ?", f.UserID)
	}

	var out []models.LeaveRequest
	if err := query.Order("leave_requests.created_at desc, leave_requests.id desc").Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "list reviewable leave requests")
	}
	return out, nil
}

// Get returns a request to its owner or to someone who may review it.
func (s *LeaveService) Get(ctx context.Context, actor *models.User, id uint) (*models.LeaveRequest, error) {
	req, err := s.load(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	if req.UserID != actor.ID && !actor.CanReviewLeaveOf(req.User) {
		return nil, errors.Wrap(ErrNotFound, "load leave request")
	}
	return req, nil
}

func (s *LeaveService) Approve(ctx context.Context, actor *models.User, id uint, comment string) (*models.LeaveRequest, error) {
	return s.decide(ctx, actor, id, models.LeaveAccepted, strings.TrimSpace(comment))
}

func (s *LeaveService) Decline(ctx context.Context, actor *models.User, id uint, comment string) (*models.LeaveRequest, error) {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return nil, invalid("comment", "is required when declining")
	}
	return s.decide(ctx, actor, id, models.LeaveDeclined, comment)
}

func (s *LeaveService) decide(ctx context.Context, actor *models.User, id uint, status models.LeaveStatus, comment string) (*models.LeaveRequest, error) {
	var req *models.LeaveRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if req, err = s.load(tx, id); err != nil {
			return err
		}
		if !actor.CanReviewLeaveOf(req.User) {
			return errors.Wrap(ErrForbidden, "cannot review this request")
		}
		if req.Status != models.LeavePending {
			return errors.Wrapf(ErrConflict, "request is already %s", strings.ToLower(string(req.Status)))
		}

		if status == models.LeaveAccepted && req.Type.ConsumesBalance() {
			// Conditional decrement so concurrent approvals cannot overdraw.
			result := tx.Model(&models.User{}).
				Where("id = ? AND leave_balance >= ?", req.UserID, req.Days).
				Update("leave_balance", gorm.Expr("leave_balance - ?", req.Days))
			if result.Error != nil {
				return errors.Wrap(result.Error, "deduct leave balance")
			}
			if result.RowsAffected == 0 {
				return errors.Wrap(ErrConflict, "insufficient leave balance")
			}
		}

		now := s.now().UTC()
		result := tx.Model(&models.LeaveRequest{}).
			Where("id = ? AND status = ?", req.ID, models.LeavePending).
			Updates(map[string]interface{}{
				"status":         status,
				"comment":        comment,
				"reviewed_by_id": actor.ID,
				"reviewed_at":    now,
			})
		if result.Error != nil {
			return errors.Wrap(result.Error, "update leave request")
		}
		if result.RowsAffected == 0 {
			return errors.Wrap(ErrConflict, "request was decided concurrently")
		}
		req.Status = status
		req.Comment = comment
		req.ReviewedByID = &actor.ID
		req.ReviewedBy = actor
		req.ReviewedAt = &now

		notice := Notice{
			Type:  models.NotificationLeaveAccepted,
			Title: "Leave request accepted",
			Link:  fmt.Sprintf("/leave-requests/%d", req.ID),
		}
		period := fmt.Sprintf("%s to %s", req.StartDate.Format(models.DateLayout), req.EndDate.Format(models.DateLayout))
		notice.Message = fmt.Sprintf("Your leave from %s was accepted by %s.", period, actor.FullName())
		if status == models.LeaveDeclined {
			notice.Type = models.NotificationLeaveDeclined
			notice.Title = "Leave request declined"
			notice.Message = fmt.Sprintf("Your leave from %s was declined by %s: %s", period, actor.FullName(), comment)
		}
		return NotifyTx(tx, []uint{req.UserID}, notice)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("leave decided",
		zap.Uint("leave_id", req.ID),
		zap.Uint("reviewer_id", actor.ID),
		zap.String("status", string(status)))
	return req, nil
}

// Delete lets the owner withdraw a request that is still pending.
func (s *LeaveService) Delete(ctx context.Context, actor *models.User, id uint) error {
	var req models.LeaveRequest
	if err := s.db.WithContext(ctx).First(&req, id).Error; err != nil {
		return notFound(err, "load leave request")
	}
	if req.UserID != actor.ID {
		return errors.Wrap(ErrForbidden, "only the requester may withdraw a request")
	}
	if req.Status != models.LeavePending {
		return errors.Wrap(ErrConflict, "only pending requests can be withdrawn")
	}
	result := s.db.WithContext(ctx).Where("id = ? AND status = ?", id, models.LeavePending).Delete(&models.LeaveRequest{})
	if result.Error != nil {
		return errors.Wrap(result.Error, "delete leave request")
	}
	if result.RowsAffected == 0 {
		return errors.Wrap(ErrConflict, "request was decided concurrently")
	}
	return nil
}

func (s *LeaveService) load(db *gorm.DB, id uint) (*models.LeaveRequest, error) {
	var req models.LeaveRequest
	if err := db.Preload("User").Preload("ReviewedBy").First(&req, id).Error; err != nil {
		return nil, notFound(err, "load leave request")
	}
	return &req, nil
}
