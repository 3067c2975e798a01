package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"hrms/models"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type UserService struct {
	db                  *gorm.DB
	log                 *zap.Logger
	defaultLeaveBalance int
}

func NewUserService(db *gorm.DB, defaultLeaveBalance int, log *zap.Logger) *UserService {
	return &UserService{db: db, log: orNop(log), defaultLeaveBalance: defaultLeaveBalance}
}

type UserFilter struct {
	DepartmentID uint
	Role         models.Role
	Status       models.UserStatus
	Search       string
	Page         int
	PageSize     int
}

type UserPage struct {
	Items    []models.User `json:"items"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// UserInput carries the writable employee fields. Nil pointers leave the
// stored value untouched on update.
type UserInput struct {
	CIN          *string            `json:"cin"`
	Email        *string            `json:"email"`
	FirstName    *string            `json:"first_name"`
	LastName     *string            `json:"last_name"`
	Phone        *string            `json:"phone"`
	Address      *string            `json:"address"`
	BirthDate    *string            `json:"birth_date"`
	HireDate     *string            `json:"hire_date"`
	Role         *models.Role       `json:"role"`
	Status       *models.UserStatus `json:"status"`
	DepartmentID *uint              `json:"department_id"`
	PositionID   *uint              `json:"position_id"`
	SupervisorID *uint              `json:"supervisor_id"`
	LeaveBalance *int               `json:"leave_balance"`
	Password     *string            `json:"password"`
}

// CreatedUser is returned on creation; GeneratedPassword is only set when
// the caller did not supply one and is never retrievable again.
type CreatedUser struct {
	User              *models.User `json:"user"`
	GeneratedPassword string       `json:"generated_password,omitempty"`
}

// scope restricts a user query to the records actor may read. It mirrors
// models.User.CanView.
func scope(query *gorm.DB, actor *models.User, table string) *gorm.DB {
	switch {
	case actor.IsHR():
		return query
	case actor.IsManager() && actor.DepartmentID != nil:
		return query.Where("("+table+".department_id = ? AND "+table+".role IN ?) OR "+table+".id = ?",
			*actor.DepartmentID, actor.Role.Below(), actor.ID)
	case actor.IsTeamLeader():
		return query.Where("("+table+".supervisor_id = ? AND "+table+".role IN ?) OR "+table+".id = ?",
			actor.ID, actor.Role.Below(), actor.ID)
	}
	return query.Where(table+".id = ?", actor.ID)
}

func (s *UserService) List(ctx context.Context, actor *models.User, f UserFilter) (*UserPage, error) {
	if f.PageSize <= 0 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	if f.Page <= 0 {
		f.Page = 1
	}

	query := scope(s.db.WithContext(ctx).Model(&models.User{}), actor, "users")
	if f.DepartmentID != 0 {
		query = query.Where("users.department_id = ?", f.DepartmentID)
	}
	if f.Role != "" {
		query = query.Where("users.role = ?", f.Role)
	}
	if f.Status != "" {
		query = query.Where("users.status = ?", f.Status)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		query = query.Where("LOWER(users.first_name) LIKE ? OR LOWER(users.last_name) LIKE ? OR LOWER(users.email) LIKE ? OR users.cin LIKE ?",
			like, like, like, like)
	}

	page := &UserPage{Page: f.Page, PageSize: f.PageSize}
	if err := query.Session(&gorm.Session{}).Count(&page.Total).Error; err != nil {
		return nil, errors.Wrap(err, "count users")
	}
	err := query.Preload("Department").Preload("Position").
		Order("users.last_name asc, users.first_name asc, users.id asc").
		Offset((f.Page - 1) * f.PageSize).Limit(f.PageSize).
		Find(&page.Items).Error
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	return page, nil
}

func (s *UserService) Get(ctx context.Context, actor *models.User, id uint) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Preload("Department").Preload("Position").Preload("Supervisor").First(&user, id).Error
	if err != nil {
		return nil, notFound(err, "load user")
	}
	if !actor.CanView(&user) {
		// Hide existence from callers who may not see the record.
		return nil, errors.Wrap(ErrNotFound, "load user")
	}
	return &user, nil
}

func (s *UserService) Create(ctx context.Context, actor *models.User, in UserInput) (*CreatedUser, error) {
	if !actor.IsHR() {
		return nil, ErrForbidden
	}

	v := &ValidationError{}
	for field, value := range map[string]*string{"cin": in.CIN, "email": in.Email, "first_name": in.FirstName, "last_name": in.LastName} {
		if value == nil || strings.TrimSpace(*value) == "" {
			v.Add(field, "is required")
		}
	}
	if in.Role == nil {
		v.Add("role", "is required")
	}
	if v.HasErrors() {
		return nil, v
	}

	user := &models.User{
		Status:       models.StatusActive,
		LeaveBalance: s.defaultLeaveBalance,
	}
	if err := s.apply(ctx, actor, user, in); err != nil {
		return nil, err
	}

	result := &CreatedUser{User: user}
	password := ""
	if in.Password != nil {
		password = *in.Password
		if len(password) < MinPasswordLength {
			return nil, invalid("password", "must be at least 8 characters")
		}
	} else {
		generated, err := randomPassword()
		if err != nil {
			return nil, errors.Wrap(err, "generate password")
		}
		password = generated
		result.GeneratedPassword = generated
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}
	user.PasswordHash = string(hash)
	user.MustChangePassword = true

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, errors.Wrap(err, "create user")
	}

	s.log.Info("user created", zap.Uint("user_id", user.ID), zap.Uint("by", actor.ID), zap.String("role", string(user.Role)))
	return result, nil
}

// Update applies in to the user. HR staff may edit the records they manage;
// everybody may edit their own contact details.
func (s *UserService) Update(ctx context.Context, actor *models.User, id uint, in UserInput) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFound(err, "load user")
	}

	if in.Password != nil {
		return nil, invalid("password", "use the password change or reset flow")
	}
	switch {
	case actor.CanManage(&user):
	case actor.ID == user.ID:
		in = UserInput{Phone: in.Phone, Address: in.Address, Email: in.Email}
	default:
		return nil, ErrForbidden
	}

	if err := s.apply(ctx, actor, &user, in); err != nil {
		return nil, err
	}
	err := s.db.WithContext(ctx).Model(&user).Select(in.columns()).Updates(&user).Error
	if err != nil {
		return nil, errors.Wrap(err, "update user")
	}
	return s.Get(ctx, actor, user.ID)
}

// columns lists the user columns in sets, so an update never rewrites
// fields that changed since the record was read.
func (in UserInput) columns() []string {
	cols := []string{"updated_at"}
	for col, set := range map[string]bool{
		"cin":           in.CIN != nil,
		"email":         in.Email != nil,
		"first_name":    in.FirstName != nil,
		"last_name":     in.LastName != nil,
		"phone":         in.Phone != nil,
		"address":       in.Address != nil,
		"birth_date":    in.BirthDate != nil,
		"hire_date":     in.HireDate != nil,
		"role":          in.Role != nil,
		"status":        in.Status != nil,
		"department_id": in.DepartmentID != nil,
		"position_id":   in.PositionID != nil,
		"supervisor_id": in.SupervisorID != nil,
		"leave_balance": in.LeaveBalance != nil,
	} {
		if set {
			cols = append(cols, col)
		}
	}
	return cols
}

func (s *UserService) Delete(ctx context.Context, actor *models.User, id uint) error {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return notFound(err, "load user")
	}
	if !actor.CanManage(&user) {
		return ErrForbidden
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Stored files are only removed through the document endpoints.
		if owns, err := exists(tx, &models.Document{}, "owner_id = ? OR uploaded_by_id = ?", id, id); err != nil {
			return err
		} else if owns {
			return errors.Wrap(ErrConflict, "user still owns or uploaded documents")
		}
		if err := tx.Model(&models.User{}).Where("supervisor_id = ?", id).Update("supervisor_id", nil).Error; err != nil {
			return errors.Wrap(err, "detach reports")
		}
		if err := tx.Model(&models.LeaveRequest{}).Where("reviewed_by_id = ?", id).Update("reviewed_by_id", nil).Error; err != nil {
			return errors.Wrap(err, "detach reviewed requests")
		}
		if err := tx.Model(&models.Department{}).Where("manager_id = ?", id).Update("manager_id", nil).Error; err != nil {
			return errors.Wrap(err, "detach managed departments")
		}
		for _, model := range []interface{}{&models.Schedule{}, &models.LeaveRequest{}, &models.Notification{}} {
			if err := tx.Where("user_id = ?", id).Delete(model).Error; err != nil {
				return errors.Wrap(err, "delete user records")
			}
		}
		if err := tx.Delete(&user).Error; err != nil {
			return errors.Wrap(err, "delete user")
		}
		s.log.Info("user deleted", zap.Uint("user_id", id), zap.Uint("by", actor.ID))
		return nil
	})
}

// apply validates in and copies it onto user.
func (s *UserService) apply(ctx context.Context, actor *models.User, user *models.User, in UserInput) error {
	v := &ValidationError{}
	db := s.db.WithContext(ctx)

	if in.CIN != nil {
		cin := strings.TrimSpace(*in.CIN)
		if !validCIN(cin) {
			v.Add("cin", "must be 8 digits")
		} else if taken, err := exists(db, &models.User{}, "cin = ? AND id <> ?", cin, user.ID); err != nil {
			return err
		} else if taken {
			return errors.Wrap(ErrConflict, "a user with this CIN already exists")
		}
		user.CIN = cin
	}
	if in.Email != nil {
		email := normalizeEmail(*in.Email)
		if !validEmail(email) {
			v.Add("email", "is not a valid address")
		} else if taken, err := exists(db, &models.User{}, "email = ? AND id <> ?", email, user.ID); err != nil {
			return err
		} else if taken {
			return errors.Wrap(ErrConflict, "a user with this email already exists")
		}
		user.Email = email
	}
	if in.FirstName != nil {
		if user.FirstName = cleanText(*in.FirstName); user.FirstName == "" {
			v.Add("first_name", "is required")
		}
	}
	if in.LastName != nil {
		if user.LastName = cleanText(*in.LastName); user.LastName == "" {
			v.Add("last_name", "is required")
		}
	}
	if in.Phone != nil {
		user.Phone = strings.TrimSpace(*in.Phone)
	}
	if in.Address != nil {
		user.Address = cleanText(*in.Address)
	}
	if in.BirthDate != nil {
		user.BirthDate = optionalDate(v, "birth_date", *in.BirthDate)
	}
	if in.HireDate != nil {
		user.HireDate = optionalDate(v, "hire_date", *in.HireDate)
	}
	if in.Role != nil {
		if !in.Role.Valid() {
			v.Add("role", "is not a known role")
		} else if *in.Role != user.Role && !actor.CanAssignRole(*in.Role) {
			return errors.Wrap(ErrForbidden, "cannot assign this role")
		}
		user.Role = *in.Role
	}
	if in.Status != nil {
		if *in.Status != models.StatusActive && *in.Status != models.StatusInactive {
			v.Add("status", "must be ACTIVE or INACTIVE")
		}
		user.Status = *in.Status
	}
	if in.LeaveBalance != nil {
		if *in.LeaveBalance < 0 {
			v.Add("leave_balance", "must not be negative")
		}
		user.LeaveBalance = *in.LeaveBalance
	}
	if in.DepartmentID != nil {
		user.DepartmentID = nil
		if *in.DepartmentID != 0 {
			if ok, err := exists(db, &models.Department{}, "id = ?", *in.DepartmentID); err != nil {
				return err
			} else if !ok {
				v.Add("department_id", "department does not exist")
			}
			user.DepartmentID = in.DepartmentID
		}
	}
	if in.PositionID != nil {
		user.PositionID = nil
		if *in.PositionID != 0 {
			if ok, err := exists(db, &models.Position{}, "id = ?", *in.PositionID); err != nil {
				return err
			} else if !ok {
				v.Add("position_id", "position does not exist")
			}
			user.PositionID = in.PositionID
		}
	}
	if in.SupervisorID != nil {
		user.SupervisorID = nil
		if *in.SupervisorID != 0 {
			if user.ID != 0 && *in.SupervisorID == user.ID {
				v.Add("supervisor_id", "cannot supervise themselves")
			} else if ok, err := exists(db, &models.User{}, "id = ?", *in.SupervisorID); err != nil {
				return err
			} else if !ok {
				v.Add("supervisor_id", "supervisor does not exist")
			}
			user.SupervisorID = in.SupervisorID
		}
	}
	return v.OrNil()
}

func optionalDate(v *ValidationError, field, value string) *time.Time {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	d, err := ParseDate(value)
	if err != nil {
		v.Add(field, "must be a YYYY-MM-DD date")
		return nil
	}
	return &d
}

func exists(db *gorm.DB, model interface{}, query string, args ...interface{}) (bool, error) {
	var count int64
	if err := db.Model(model).Where(query, args...).Count(&count).Error; err != nil {
		return false, errors.Wrap(err, "check existence")
	}
	return count > 0, nil
}

func randomPassword() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
