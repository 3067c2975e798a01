package database

import (
	"fmt"
	"strings"
	"testing"

	"hrms/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func TestInit_SeedsDefaultAccountOnce(t *testing.T) {
	require.NoError(t, Init("sqlite", "file::memory:", 30, zap.NewNop()))
	db := GetDB()
	require.NotNil(t, db)

	var admin models.User
	require.NoError(t, db.Where("cin = ?", DefaultAdminCIN).First(&admin).Error)
	assert.Equal(t, models.RoleDHR, admin.Role)
	assert.True(t, admin.MustChangePassword)
	assert.Equal(t, 30, admin.LeaveBalance)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(DefaultAdminPassword)))

	require.NoError(t, seedDefaultAdmin(db, 30, nil))
	var count int64
	db.Model(&models.User{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	assert.Error(t, err)
}

type lineWriter struct {
	lines []string
}

func (w *lineWriter) Printf(format string, args ...interface{}) {
	w.lines = append(w.lines, fmt.Sprintf(format, args...))
}

func TestGormLogger_SkipsMissingRows(t *testing.T) {
	db, err := Open("sqlite", "file::memory:")
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	w := &lineWriter{}
	db.Logger = NewGormLogger(w)

	var user models.User
	assert.Error(t, db.Where("email = ?", "nobody@example.com").First(&user).Error)
	assert.Empty(t, w.lines, "a missing row is not worth a log line")

	assert.Error(t, db.Exec("SELECT * FROM no_such_table").Error)
	require.NotEmpty(t, w.lines)
	assert.True(t, strings.Contains(strings.Join(w.lines, "\n"), "no_such_table"))
}
