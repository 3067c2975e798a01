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
	"gorm.io/gorm/clause"
)

// MaxScheduleRangeDays bounds schedule queries and bulk assignments.
const MaxScheduleRangeDays = 93

type ShiftService struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewShiftService(db *gorm.DB, log *zap.Logger) *ShiftService {
	return &ShiftService{db: db, log: orNop(log)}
}

type ShiftInput struct {
	Name        *string `json:"name"`
	StartTime   *string `json:"start_time"`
	EndTime     *string `json:"end_time"`
	Description *string `json:"description"`
}

func (s *ShiftService) List(ctx context.Context) ([]models.Shift, error) {
	var out []models.Shift
	if err := s.db.WithContext(ctx).Order("start_time asc, name asc").Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "list shifts")
	}
	return out, nil
}

func (s *ShiftService) Get(ctx context.Context, id uint) (*models.Shift, error) {
	var shift models.Shift
	if err := s.db.WithContext(ctx).First(&shift, id).Error; err != nil {
		return nil, notFound(err, "load shift")
	}
	return &shift, nil
}

func (s *ShiftService) Create(ctx context.Context, in ShiftInput) (*models.Shift, error) {
	v := &ValidationError{}
	if in.Name == nil {
		v.Add("name", "is required")
	}
	if in.StartTime == nil {
		v.Add("start_time", "is required")
	}
	if in.EndTime == nil {
		v.Add("end_time", "is required")
	}
	if v.HasErrors() {
		return nil, v
	}

	shift := &models.Shift{}
	if err := s.apply(ctx, shift, in); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(shift).Error; err != nil {
		return nil, errors.Wrap(err, "create shift")
	}
	return shift, nil
}

func (s *ShiftService) Update(ctx context.Context, id uint, in ShiftInput) (*models.Shift, error) {
	shift, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, shift, in); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(shift).Error; err != nil {
		return nil, errors.Wrap(err, "update shift")
	}
	return shift, nil
}

func (s *ShiftService) Delete(ctx context.Context, id uint) error {
	shift, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if used, err := exists(s.db.WithContext(ctx), &models.Schedule{}, "shift_id = ?", id); err != nil {
		return err
	} else if used {
		return errors.Wrap(ErrConflict, "shift is still scheduled")
	}
	return errors.Wrap(s.db.WithContext(ctx).Delete(shift).Error, "delete shift")
}

func (s *ShiftService) apply(ctx context.Context, shift *models.Shift, in ShiftInput) error {
	v := &ValidationError{}
	if in.Name != nil {
		shift.Name = cleanText(*in.Name)
		if shift.Name == "" {
			v.Add("name", "is required")
		}
	}
	if in.StartTime != nil {
		shift.StartTime = strings.TrimSpace(*in.StartTime)
		if !validClock(shift.StartTime) {
			v.Add("start_time", "must be HH:MM")
		}
	}
	if in.EndTime != nil {
		shift.EndTime = strings.TrimSpace(*in.EndTime)
		if !validClock(shift.EndTime) {
			v.Add("end_time", "must be HH:MM")
		}
	}
	if !v.HasErrors() && shift.StartTime == shift.EndTime {
		v.Add("end_time", "must differ from start_time")
	}
	if v.HasErrors() {
		return v
	}

	taken, err := exists(s.db.WithContext(ctx), &models.Shift{}, "LOWER(name) = ? AND id <> ?", strings.ToLower(shift.Name), shift.ID)
	if err != nil {
		return err
	}
	if taken {
		return errors.Wrap(ErrConflict, "a shift with this name already exists")
	}
	return nil
}

type ScheduleService struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewScheduleService(db *gorm.DB, log *zap.Logger) *ScheduleService {
	return &ScheduleService{db: db, log: orNop(log)}
}

type ScheduleFilter struct {
	From         time.Time
	To           time.Time
	UserID       uint
	DepartmentID uint
}

type ScheduleInput struct {
	UserID  *uint   `json:"user_id"`
	ShiftID *uint   `json:"shift_id"`
	Date    *string `json:"date"`
	Note    *string `json:"note"`
}

type BulkScheduleInput struct {
	UserIDs []uint `json:"user_ids"`
	ShiftID uint   `json:"shift_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Note    string `json:"note"`
}

// BulkResult reports what a bulk assignment did. Replaced rows already
// existed for the day and now point at the new shift; skipped days are
// covered by accepted leave.
type BulkResult struct {
	Created  int `json:"created"`
	Replaced int `json:"replaced"`
	Skipped  int `json:"skipped"`
}

func checkRange(from, to time.Time) error {
	if to.Before(from) {
		return invalid("to", "must not be before from")
	}
	if models.LeaveDays(from, to) > MaxScheduleRangeDays {
		return invalid("to", fmt.Sprintf("range must not exceed %d days", MaxScheduleRangeDays))
	}
	return nil
}

// canSchedule reports whether actor may plan target's shifts.
func canSchedule(actor, target *models.User) bool {
	if actor.IsHR() {
		return true
	}
	return actor.IsManager() && actor.CanView(target)
}

func (s *ScheduleService) List(ctx context.Context, actor *models.User, f ScheduleFilter) ([]models.Schedule, error) {
	if err := checkRange(f.From, f.To); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).
		Joins("JOIN users ON users.id = schedules.user_id").
		Preload("User").Preload("Shift").
		Where("schedules.date >= ? AND schedules.date <= ?", f.From, f.To)
	query = scope(query, actor, "users")
	if f.UserID != 0 {
		query = query.Where("schedules.user_id = ?", f.UserID)
	}
	if f.DepartmentID != 0 {
		query = query.Where("users.department_id = ?", f.DepartmentID)
	}

	var out []models.Schedule
	if err := query.Order("schedules.date asc, schedules.user_id asc").Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "list schedules")
	}
	return out, nil
}

func (s *ScheduleService) loadTarget(ctx context.Context, actor *models.User, userID uint) (*models.User, error) {
	var target models.User
	if err := s.db.WithContext(ctx).First(&target, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invalid("user_id", "employee does not exist")
		}
		return nil, errors.Wrap(err, "load employee")
	}
	if !canSchedule(actor, &target) {
		return nil, errors.Wrap(ErrForbidden, "cannot schedule this employee")
	}
	return &target, nil
}

func (s *ScheduleService) checkShift(ctx context.Context, shiftID uint) error {
	ok, err := exists(s.db.WithContext(ctx), &models.Shift{}, "id = ?", shiftID)
	if err != nil {
		return err
	}
	if !ok {
		return invalid("shift_id", "shift does not exist")
	}
	return nil
}

func (s *ScheduleService) onLeave(ctx context.Context, userID uint, day time.Time) (bool, error) {
	return exists(s.db.WithContext(ctx), &models.LeaveRequest{},
		"user_id = ? AND status = ? AND start_date <= ? AND end_date >= ?",
		userID, models.LeaveAccepted, day, day)
}

func (s *ScheduleService) Assign(ctx context.Context, actor *models.User, in ScheduleInput) (*models.Schedule, error) {
	v := &ValidationError{}
	if in.UserID == nil {
		v.Add("user_id", "is required")
	}
	if in.ShiftID == nil {
		v.Add("shift_id", "is required")
	}
	var day time.Time
	if in.Date == nil {
		v.Add("date", "is required")
	} else if d, err := ParseDate(*in.Date); err != nil {
		v.Add("date", "must be a YYYY-MM-DD date")
	} else {
		day = d
	}
	if v.HasErrors() {
		return nil, v
	}

	target, err := s.loadTarget(ctx, actor, *in.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.checkShift(ctx, *in.ShiftID); err != nil {
		return nil, err
	}
	if taken, err := exists(s.db.WithContext(ctx), &models.Schedule{}, "user_id = ? AND date = ?", target.ID, day); err != nil {
		return nil, err
	} else if taken {
		return nil, errors.Wrap(ErrConflict, "employee already has a shift that day")
	}
	if away, err := s.onLeave(ctx, target.ID, day); err != nil {
		return nil, err
	} else if away {
		return nil, errors.Wrap(ErrConflict, "employee is on leave that day")
	}

	row := &models.Schedule{UserID: target.ID, ShiftID: *in.ShiftID, Date: day}
	if in.Note != nil {
		row.Note = strings.TrimSpace(*in.Note)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return errors.Wrap(err, "create schedule")
		}
		return NotifyTx(tx, []uint{target.ID}, Notice{
			Type:    models.NotificationSchedule,
			Title:   "New shift",
			Message: fmt.Sprintf("You have been scheduled on %s.", day.Format(models.DateLayout)),
			Link:    "/schedules",
		})
	})
	if err != nil {
		return nil, err
	}
	return s.get(ctx, row.ID)
}

// BulkAssign schedules every listed employee on shiftID for each day of the
// range, replacing any shift already planned that day. Days covered by an
// accepted leave are skipped.
func (s *ScheduleService) BulkAssign(ctx context.Context, actor *models.User, in BulkScheduleInput) (*BulkResult, error) {
	v := &ValidationError{}
	if len(in.UserIDs) == 0 {
		v.Add("user_ids", "at least one employee is required")
	}
	if in.ShiftID == 0 {
		v.Add("shift_id", "is required")
	}
	from, errFrom := ParseDate(in.From)
	if errFrom != nil {
		v.Add("from", "must be a YYYY-MM-DD date")
	}
	to, errTo := ParseDate(in.To)
	if errTo != nil {
		v.Add("to", "must be a YYYY-MM-DD date")
	}
	if v.HasErrors() {
		return nil, v
	}
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	if err := s.checkShift(ctx, in.ShiftID); err != nil {
		return nil, err
	}

	userIDs := make([]uint, 0, len(in.UserIDs))
	seen := make(map[uint]struct{}, len(in.UserIDs))
	for _, id := range in.UserIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, err := s.loadTarget(ctx, actor, id); err != nil {
			return nil, err
		}
		userIDs = append(userIDs, id)
	}

	db := s.db.WithContext(ctx)

	var leaves []models.LeaveRequest
	err := db.Where("user_id IN ? AND status = ? AND start_date <= ? AND end_date >= ?",
		userIDs, models.LeaveAccepted, to, from).Find(&leaves).Error
	if err != nil {
		return nil, errors.Wrap(err, "load leaves")
	}
	var existing []models.Schedule
	err = db.Where("user_id IN ? AND date >= ? AND date <= ?", userIDs, from, to).Find(&existing).Error
	if err != nil {
		return nil, errors.Wrap(err, "load schedules")
	}
	planned := make(map[string]bool, len(existing))
	for _, e := range existing {
		planned[dayKey(e.UserID, e.Date)] = true
	}

	result := &BulkResult{}
	var rows []models.Schedule
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		for _, id := range userIDs {
			if coveredByLeave(leaves, id, day) {
				result.Skipped++
				continue
			}
			if planned[dayKey(id, day)] {
				result.Replaced++
			} else {
				result.Created++
			}
			rows = append(rows, models.Schedule{UserID: id, ShiftID: in.ShiftID, Date: day, Note: strings.TrimSpace(in.Note)})
		}
	}
	if len(rows) == 0 {
		return result, nil
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{"shift_id", "note", "updated_at"}),
		}).CreateInBatches(&rows, 200).Error
		if err != nil {
			return errors.Wrap(err, "upsert schedules")
		}
		return NotifyTx(tx, userIDs, Notice{
			Type:    models.NotificationSchedule,
			Title:   "Schedule updated",
			Message: fmt.Sprintf("Your shifts between %s and %s have been updated.", from.Format(models.DateLayout), to.Format(models.DateLayout)),
			Link:    "/schedules",
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("bulk schedule assigned",
		zap.Uint("by", actor.ID),
		zap.Int("employees", len(userIDs)),
		zap.Int("created", result.Created),
		zap.Int("replaced", result.Replaced),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func (s *ScheduleService) Update(ctx context.Context, actor *models.User, id uint, in ScheduleInput) (*models.Schedule, error) {
	row, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canSchedule(actor, row.User) {
		return nil, ErrForbidden
	}

	if in.ShiftID != nil {
		if err := s.checkShift(ctx, *in.ShiftID); err != nil {
			return nil, err
		}
		row.ShiftID = *in.ShiftID
	}
	if in.Date != nil {
		day, err := ParseDate(*in.Date)
		if err != nil {
			return nil, invalid("date", "must be a YYYY-MM-DD date")
		}
		if !day.Equal(row.Date) {
			if taken, err := exists(s.db.WithContext(ctx), &models.Schedule{}, "user_id = ? AND date = ? AND id <> ?", row.UserID, day, row.ID); err != nil {
				return nil, err
			} else if taken {
				return nil, errors.Wrap(ErrConflict, "employee already has a shift that day")
			}
			if away, err := s.onLeave(ctx, row.UserID, day); err != nil {
				return nil, err
			} else if away {
				return nil, errors.Wrap(ErrConflict, "employee is on leave that day")
			}
		}
		row.Date = day
	}
	if in.Note != nil {
		row.Note = strings.TrimSpace(*in.Note)
	}

	err = s.db.WithContext(ctx).Model(&models.Schedule{ID: row.ID}).Updates(map[string]interface{}{
		"shift_id": row.ShiftID,
		"date":     row.Date,
		"note":     row.Note,
	}).Error
	if err != nil {
		return nil, errors.Wrap(err, "update schedule")
	}
	return s.get(ctx, row.ID)
}

func (s *ScheduleService) Delete(ctx context.Context, actor *models.User, id uint) error {
	row, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if !canSchedule(actor, row.User) {
		return ErrForbidden
	}
	return errors.Wrap(s.db.WithContext(ctx).Delete(&models.Schedule{}, row.ID).Error, "delete schedule")
}

// Generate lays out a rotating plan for every active employee starting at
// from, one week per shift, Sundays off. Days that are already planned or
// covered by accepted leave are left alone. It returns the number of rows
// created.
func (s *ScheduleService) Generate(ctx context.Context, from time.Time, days int) (int, error) {
	if days <= 0 {
		return 0, invalid("days", "must be positive")
	}
	db := s.db.WithContext(ctx)

	var shifts []models.Shift
	if err := db.Order("start_time asc, id asc").Find(&shifts).Error; err != nil {
		return 0, errors.Wrap(err, "load shifts")
	}
	if len(shifts) == 0 {
		return 0, invalid("shifts", "define at least one shift first")
	}
	var users []models.User
	if err := db.Where("status = ?", models.StatusActive).Order("id asc").Find(&users).Error; err != nil {
		return 0, errors.Wrap(err, "load employees")
	}
	if len(users) == 0 {
		return 0, nil
	}
	ids := make([]uint, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}

	from = Today(from)
	to := from.AddDate(0, 0, days-1)
	var leaves []models.LeaveRequest
	err := db.Where("user_id IN ? AND status = ? AND start_date <= ? AND end_date >= ?",
		ids, models.LeaveAccepted, to, from).Find(&leaves).Error
	if err != nil {
		return 0, errors.Wrap(err, "load leaves")
	}

	var rows []models.Schedule
	for offset := 0; offset < days; offset++ {
		day := from.AddDate(0, 0, offset)
		if day.Weekday() == time.Sunday {
			continue
		}
		week := offset / 7
		for i, u := range users {
			if coveredByLeave(leaves, u.ID, day) {
				continue
			}
			shift := shifts[(i+week)%len(shifts)]
			rows = append(rows, models.Schedule{UserID: u.ID, ShiftID: shift.ID, Date: day})
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}

	result := db.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&rows, 500)
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "create schedules")
	}
	s.log.Info("schedules generated", zap.Int("rows", int(result.RowsAffected)), zap.Time("from", from), zap.Int("days", days))
	return int(result.RowsAffected), nil
}

func (s *ScheduleService) get(ctx context.Context, id uint) (*models.Schedule, error) {
	var row models.Schedule
	if err := s.db.WithContext(ctx).Preload("User").Preload("Shift").First(&row, id).Error; err != nil {
		return nil, notFound(err, "load schedule")
	}
	return &row, nil
}

func dayKey(userID uint, day time.Time) string {
	return fmt.Sprintf("%d/%s", userID, day.UTC().Format(models.DateLayout))
}

func coveredByLeave(leaves []models.LeaveRequest, userID uint, day time.Time) bool {
	for i := range leaves {
		if leaves[i].UserID == userID && leaves[i].Covers(day) {
			return true
		}
	}
	return false
}
