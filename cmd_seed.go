package main

import (
	"context"
	"time"

	"hrms/database"
	"hrms/handlers"
	"hrms/models"
	"hrms/services"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const seedPassword = "Welcome!2024"

var seedDays int

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load demo departments, staff and shifts into an empty database",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices()
		if err != nil {
			return err
		}
		defer closeDB()
		return seed(cmd.Context(), svc)
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedDays, "days", 28, "Days of schedule to generate from today")
}

type seedDepartment struct {
	name      string
	positions []string
	staff     []seedPerson
}

type seedPerson struct {
	cin       string
	first     string
	last      string
	role      models.Role
	position  int
	manages   bool
	supervise bool
}

var demoDepartments = []seedDepartment{
	{
		name:      "Human Resources",
		positions: []string{"HR Officer", "Payroll Specialist"},
		staff: []seedPerson{
			{cin: "10000001", first: "Amel", last: "Ben Salah", role: models.RoleHR, position: 0, manages: true},
			{cin: "10000002", first: "Karim", last: "Jaziri", role: models.RoleEmployee, position: 1},
		},
	},
	{
		name:      "Engineering",
		positions: []string{"Engineering Manager", "Team Lead", "Software Engineer"},
		staff: []seedPerson{
			{cin: "10000011", first: "Sami", last: "Trabelsi", role: models.RoleManager, position: 0, manages: true},
			{cin: "10000012", first: "Leila", last: "Mansour", role: models.RoleTeamLeader, position: 1, supervise: true},
			{cin: "10000013", first: "Youssef", last: "Gharbi", role: models.RoleEmployee, position: 2},
			{cin: "10000014", first: "Ines", last: "Haddad", role: models.RoleEmployee, position: 2},
		},
	},
	{
		name:      "Operations",
		positions: []string{"Operations Manager", "Technician"},
		staff: []seedPerson{
			{cin: "10000021", first: "Nadia", last: "Bouazizi", role: models.RoleManager, position: 0, manages: true},
			{cin: "10000022", first: "Walid", last: "Chebbi", role: models.RoleEmployee, position: 1},
			{cin: "10000023", first: "Rim", last: "Ferchichi", role: models.RoleEmployee, position: 1},
		},
	},
}

var demoShifts = []services.ShiftInput{
	{Name: strPtr("Morning"), StartTime: strPtr("06:00"), EndTime: strPtr("14:00")},
	{Name: strPtr("Afternoon"), StartTime: strPtr("14:00"), EndTime: strPtr("22:00")},
	{Name: strPtr("Night"), StartTime: strPtr("22:00"), EndTime: strPtr("06:00"), Description: strPtr("Ends the next morning")},
}

func strPtr(s string) *string { return &s }

func seed(ctx context.Context, svc *handlers.Services) error {
	db := database.GetDB().WithContext(ctx)

	var existing int64
	if err := db.Model(&models.Department{}).Count(&existing).Error; err != nil {
		return errors.Wrap(err, "count departments")
	}
	if existing > 0 {
		logger.Info("database already has departments, skipping seed")
		return nil
	}

	var admin models.User
	if err := db.Where("role = ?", models.RoleDHR).Order("id").First(&admin).Error; err != nil {
		return errors.Wrap(err, "load DHR account")
	}

	for _, d := range demoDepartments {
		dept, err := svc.Departments.Create(ctx, services.DepartmentInput{Name: strPtr(d.name)})
		if err != nil {
			return errors.Wrapf(err, "create department %s", d.name)
		}

		positionIDs := make([]uint, len(d.positions))
		for i, title := range d.positions {
			p, err := svc.Positions.Create(ctx, services.PositionInput{Title: strPtr(title), DepartmentID: &dept.ID})
			if err != nil {
				return errors.Wrapf(err, "create position %s", title)
			}
			positionIDs[i] = p.ID
		}

		var supervisorID *uint
		for _, p := range d.staff {
			role := p.role
			in := services.UserInput{
				CIN:          strPtr(p.cin),
				Email:        strPtr(p.cin + "@hrms.local"),
				FirstName:    strPtr(p.first),
				LastName:     strPtr(p.last),
				Role:         &role,
				DepartmentID: &dept.ID,
				PositionID:   &positionIDs[p.position],
				Password:     strPtr(seedPassword),
			}
			if !p.supervise && !p.manages {
				in.SupervisorID = supervisorID
			}
			created, err := svc.Users.Create(ctx, &admin, in)
			if err != nil {
				return errors.Wrapf(err, "create user %s", p.cin)
			}
			id := created.User.ID
			if p.manages {
				if _, err := svc.Departments.Update(ctx, dept.ID, services.DepartmentInput{ManagerID: &id}); err != nil {
					return errors.Wrapf(err, "assign manager of %s", d.name)
				}
			}
			if p.supervise {
				supervisorID = &id
			}
		}
		logger.Info("department seeded", zap.String("name", d.name), zap.Int("staff", len(d.staff)))
	}

	for _, in := range demoShifts {
		if _, err := svc.Shifts.Create(ctx, in); err != nil {
			return errors.Wrapf(err, "create shift %s", *in.Name)
		}
	}

	created, err := svc.Schedules.Generate(ctx, services.Today(time.Now()), seedDays)
	if err != nil {
		return errors.Wrap(err, "generate schedules")
	}
	logger.Info("seed complete",
		zap.Int("schedules", created),
		zap.String("password", seedPassword))
	return nil
}
