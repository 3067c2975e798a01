package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"hrms/models"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const employeeSheet = "Employees"

type ExportService struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewExportService(db *gorm.DB, log *zap.Logger) *ExportService {
	return &ExportService{db: db, log: orNop(log)}
}

// UsersXLSX writes a workbook with one row per employee visible to actor.
func (s *ExportService) UsersXLSX(ctx context.Context, actor *models.User, w io.Writer) error {
	if !actor.IsHR() {
		return ErrForbidden
	}
	var users []models.User
	err := s.db.WithContext(ctx).
		Preload("Department").Preload("Position").Preload("Supervisor").
		Order("last_name asc, first_name asc, id asc").
		Find(&users).Error
	if err != nil {
		return errors.Wrap(err, "load employees")
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", employeeSheet); err != nil {
		return errors.Wrap(err, "name sheet")
	}

	headers := []interface{}{"CIN", "Last name", "First name", "Email", "Phone", "Role", "Status",
		"Department", "Position", "Supervisor", "Hire date", "Leave balance"}
	if err := f.SetSheetRow(employeeSheet, "A1", &headers); err != nil {
		return errors.Wrap(err, "write header")
	}
	for i, u := range users {
		row := []interface{}{u.CIN, u.LastName, u.FirstName, u.Email, u.Phone, string(u.Role), string(u.Status),
			"", "", "", "", u.LeaveBalance}
		if u.Department != nil {
			row[7] = u.Department.Name
		}
		if u.Position != nil {
			row[8] = u.Position.Title
		}
		if u.Supervisor != nil {
			row[9] = u.Supervisor.FullName()
		}
		if u.HireDate != nil {
			row[10] = u.HireDate.Format(models.DateLayout)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return errors.Wrap(err, "locate row")
		}
		if err := f.SetSheetRow(employeeSheet, cell, &row); err != nil {
			return errors.Wrapf(err, "write row %d", i+2)
		}
	}
	if err := f.SetPanes(employeeSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return errors.Wrap(err, "freeze header")
	}

	if _, err := f.WriteTo(w); err != nil {
		return errors.Wrap(err, "write workbook")
	}
	s.log.Info("employees exported", zap.Uint("by", actor.ID), zap.Int("rows", len(users)))
	return nil
}

// LeaveCSV writes every leave request overlapping the given month.
func (s *ExportService) LeaveCSV(ctx context.Context, actor *models.User, year int, month time.Month, w io.Writer) error {
	if !actor.IsHR() {
		return ErrForbidden
	}
	if month < time.January || month > time.December {
		return invalid("month", "must be between 1 and 12")
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)

	var requests []models.LeaveRequest
	err := s.db.WithContext(ctx).
		Preload("User").Preload("User.Department").Preload("ReviewedBy").
		Where("start_date <= ? AND end_date >= ?", last, first).
		Order("start_date asc, id asc").
		Find(&requests).Error
	if err != nil {
		return errors.Wrap(err, "load leave requests")
	}

	writer := csv.NewWriter(w)
	records := [][]string{{"CIN", "Employee", "Department", "Type", "Start", "End", "Days", "Status", "Reviewed by", "Comment"}}
	for _, r := range requests {
		var cin, name, department, reviewer string
		if r.User != nil {
			cin, name = r.User.CIN, r.User.FullName()
			if r.User.Department != nil {
				department = r.User.Department.Name
			}
		}
		if r.ReviewedBy != nil {
			reviewer = r.ReviewedBy.FullName()
		}
		records = append(records, []string{
			cin,
			name,
			department,
			string(r.Type),
			r.StartDate.Format(models.DateLayout),
			r.EndDate.Format(models.DateLayout),
			strconv.Itoa(r.Days),
			string(r.Status),
			reviewer,
			r.Comment,
		})
	}
	if err := writer.WriteAll(records); err != nil {
		return errors.Wrap(err, "write csv")
	}
	return nil
}

// LeaveExportName is the attachment name for a monthly leave export.
func LeaveExportName(year int, month time.Month) string {
	return fmt.Sprintf("leave_%d_%02d.csv", year, int(month))
}
