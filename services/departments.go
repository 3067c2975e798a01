package services

import (
	"context"
	"strings"

	"hrms/models"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type DepartmentService struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewDepartmentService(db *gorm.DB, log *zap.Logger) *DepartmentService {
	return &DepartmentService{db: db, log: orNop(log)}
}

type DepartmentInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	ManagerID   *uint   `json:"manager_id"`
}

// DepartmentSummary is a department with its headcount.
type DepartmentSummary struct {
	models.Department
	Headcount int64 `json:"headcount"`
}

func (s *DepartmentService) List(ctx context.Context) ([]DepartmentSummary, error) {
	var departments []models.Department
	err := s.db.WithContext(ctx).Preload("Manager").Preload("Positions").Order("name asc").Find(&departments).Error
	if err != nil {
		return nil, errors.Wrap(err, "list departments")
	}

	type row struct {
		DepartmentID uint
		Count        int64
	}
	var rows []row
	err = s.db.WithContext(ctx).Model(&models.User{}).
		Select("department_id, COUNT(*) AS count").
		Where("department_id IS NOT NULL").
		Group("department_id").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "count headcount")
	}
	counts := make(map[uint]int64, len(rows))
	for _, r := range rows {
		counts[r.DepartmentID] = r.Count
	}

	out := make([]DepartmentSummary, 0, len(departments))
	for _, d := range departments {
		out = append(out, DepartmentSummary{Department: d, Headcount: counts[d.ID]})
	}
	return out, nil
}

func (s *DepartmentService) Get(ctx context.Context, id uint) (*models.Department, error) {
	var d models.Department
	if err := s.db.WithContext(ctx).Preload("Manager").Preload("Positions").First(&d, id).Error; err != nil {
		return nil, notFound(err, "load department")
	}
	return &d, nil
}

func (s *DepartmentService) Create(ctx context.Context, in DepartmentInput) (*models.Department, error) {
	if in.Name == nil {
		return nil, invalid("name", "is required")
	}
	d := &models.Department{}
	if err := s.apply(ctx, d, in); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return nil, errors.Wrap(err, "create department")
	}
	s.log.Info("department created", zap.Uint("department_id", d.ID), zap.String("name", d.Name))
	return d, nil
}

func (s *DepartmentService) Update(ctx context.Context, id uint, in DepartmentInput) (*models.Department, error) {
	var d models.Department
	if err := s.db.WithContext(ctx).First(&d, id).Error; err != nil {
		return nil, notFound(err, "load department")
	}
	if err := s.apply(ctx, &d, in); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(&d).Error; err != nil {
		return nil, errors.Wrap(err, "update department")
	}
	return s.Get(ctx, d.ID)
}

// Delete refuses while employees or positions still reference the department.
func (s *DepartmentService) Delete(ctx context.Context, id uint) error {
	var d models.Department
	if err := s.db.WithContext(ctx).First(&d, id).Error; err != nil {
		return notFound(err, "load department")
	}
	db := s.db.WithContext(ctx)
	if used, err := exists(db, &models.User{}, "department_id = ?", id); err != nil {
		return err
	} else if used {
		return errors.Wrap(ErrConflict, "department still has employees")
	}
	if used, err := exists(db, &models.Position{}, "department_id = ?", id); err != nil {
		return err
	} else if used {
		return errors.Wrap(ErrConflict, "department still has positions")
	}
	return errors.Wrap(db.Delete(&d).Error, "delete department")
}

func (s *DepartmentService) apply(ctx context.Context, d *models.Department, in DepartmentInput) error {
	db := s.db.WithContext(ctx)
	if in.Name != nil {
		name := cleanText(*in.Name)
		if name == "" {
			return invalid("name", "is required")
		}
		if taken, err := exists(db, &models.Department{}, "LOWER(name) = ? AND id <> ?", strings.ToLower(name), d.ID); err != nil {
			return err
		} else if taken {
			return errors.Wrap(ErrConflict, "a department with this name already exists")
		}
		d.Name = name
	}
	if in.Description != nil {
		d.Description = strings.TrimSpace(*in.Description)
	}
	if in.ManagerID != nil {
		d.ManagerID = nil
		if *in.ManagerID != 0 {
			if ok, err := exists(db, &models.User{}, "id = ?", *in.ManagerID); err != nil {
				return err
			} else if !ok {
				return invalid("manager_id", "manager does not exist")
			}
			d.ManagerID = in.ManagerID
		}
	}
	return nil
}

type PositionInput struct {
	Title        *string `json:"title"`
	Description  *string `json:"description"`
	DepartmentID *uint   `json:"department_id"`
}

type PositionService struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewPositionService(db *gorm.DB, log *zap.Logger) *PositionService {
	return &PositionService{db: db, log: orNop(log)}
}

func (s *PositionService) List(ctx context.Context, departmentID uint) ([]models.Position, error) {
	query := s.db.WithContext(ctx).Preload("Department")
	if departmentID != 0 {
		query = query.Where("department_id = ?", departmentID)
	}
	var out []models.Position
	if err := query.Order("title asc").Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "list positions")
	}
	return out, nil
}

func (s *PositionService) Get(ctx context.Context, id uint) (*models.Position, error) {
	var p models.Position
	if err := s.db.WithContext(ctx).Preload("Department").First(&p, id).Error; err != nil {
		return nil, notFound(err, "load position")
	}
	return &p, nil
}

func (s *PositionService) Create(ctx context.Context, in PositionInput) (*models.Position, error) {
	if in.Title == nil {
		return nil, invalid("title", "is required")
	}
	p := &models.Position{}
	if err := s.apply(ctx, p, in); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, errors.Wrap(err, "create position")
	}
	return s.Get(ctx, p.ID)
}

func (s *PositionService) Update(ctx context.Context, id uint, in PositionInput) (*models.Position, error) {
	var p models.Position
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err, "load position")
	}
	if err := s.apply(ctx, &p, in); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(&p).Error; err != nil {
		return nil, errors.Wrap(err, "update position")
	}
	return s.Get(ctx, p.ID)
}

func (s *PositionService) Delete(ctx context.Context, id uint) error {
	var p models.Position
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return notFound(err, "load position")
	}
	if used, err := exists(s.db.WithContext(ctx), &models.User{}, "position_id = ?", id); err != nil {
		return err
	} else if used {
		return errors.Wrap(ErrConflict, "position is still held by employees")
	}
	return errors.Wrap(s.db.WithContext(ctx).Delete(&p).Error, "delete position")
}

func (s *PositionService) apply(ctx context.Context, p *models.Position, in PositionInput) error {
	db := s.db.WithContext(ctx)
	if in.DepartmentID != nil {
		p.DepartmentID = nil
		if *in.DepartmentID != 0 {
			if ok, err := exists(db, &models.Department{}, "id = ?", *in.DepartmentID); err != nil {
				return err
			} else if !ok {
				return invalid("department_id", "department does not exist")
			}
			p.DepartmentID = in.DepartmentID
		}
	}
	if in.Title != nil {
		p.Title = cleanText(*in.Title)
		if p.Title == "" {
			return invalid("title", "is required")
		}
	}
	if in.Description != nil {
		p.Description = strings.TrimSpace(*in.Description)
	}

	query := db.Model(&models.Position{}).Where("LOWER(title) = ? AND id <> ?", strings.ToLower(p.Title), p.ID)
	if p.DepartmentID != nil {
		query = query.Where("department_id = ?", *p.DepartmentID)
	} else {
		query = query.Where("department_id IS NULL")
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return errors.Wrap(err, "check position title")
	}
	if count > 0 {
		return errors.Wrap(ErrConflict, "a position with this title already exists in the department")
	}
	return nil
}
