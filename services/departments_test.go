package services

import (
	"context"
	"testing"

	"hrms/models"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepartmentLifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	departments := NewDepartmentService(db, nil)
	positions := NewPositionService(db, nil)

	it, err := departments.Create(ctx, DepartmentInput{Name: ptr("  Information   Technology ")})
	require.NoError(t, err)
	assert.Equal(t, "Information Technology", it.Name)

	_, err = departments.Create(ctx, DepartmentInput{Name: ptr("information technology")})
	assert.True(t, errors.Is(err, ErrConflict))

	missing := uint(4242)
	_, err = departments.Update(ctx, it.ID, DepartmentInput{ManagerID: &missing})
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))

	manager := createUser(t, db, models.RoleManager, inDepartment(it.ID))
	updated, err := departments.Update(ctx, it.ID, DepartmentInput{ManagerID: &manager.ID})
	require.NoError(t, err)
	require.NotNil(t, updated.Manager)
	assert.Equal(t, manager.ID, updated.Manager.ID)

	dev, err := positions.Create(ctx, PositionInput{Title: ptr("Developer"), DepartmentID: &it.ID})
	require.NoError(t, err)
	_, err = positions.Create(ctx, PositionInput{Title: ptr("developer"), DepartmentID: &it.ID})
	assert.True(t, errors.Is(err, ErrConflict), "titles are unique per department")

	hrDept := createDepartment(t, db, "Human Resources")
	_, err = positions.Create(ctx, PositionInput{Title: ptr("Developer"), DepartmentID: &hrDept.ID})
	assert.NoError(t, err, "the same title may exist in another department")

	list, err := departments.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Human Resources", list[0].Name)
	assert.EqualValues(t, 0, list[0].Headcount)
	assert.EqualValues(t, 1, list[1].Headcount)

	filtered, err := positions.List(ctx, it.ID)
	require.NoError(t, err)
	assert.Len(t, filtered, 1)

	assert.True(t, errors.Is(departments.Delete(ctx, it.ID), ErrConflict), "employees still assigned")
	require.NoError(t, db.Model(manager).Update("department_id", nil).Error)
	assert.True(t, errors.Is(departments.Delete(ctx, it.ID), ErrConflict), "positions still attached")

	holder := createUser(t, db, models.RoleEmployee, func(u *models.User) { u.PositionID = &dev.ID })
	assert.True(t, errors.Is(positions.Delete(ctx, dev.ID), ErrConflict))
	require.NoError(t, db.Model(holder).Update("position_id", nil).Error)
	require.NoError(t, positions.Delete(ctx, dev.ID))

	require.NoError(t, departments.Delete(ctx, it.ID))
	_, err = departments.Get(ctx, it.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}
