package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hrms/config"
	"hrms/database"
	"hrms/middleware"
	"hrms/models"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const testPassword = "Password1!"

var (
	userSeq      atomic.Int64
	testHashOnce sync.Once
	testHash     string
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	middleware.SetJWTSecret("test-secret")

	db, err := database.Open("sqlite", "file::memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		JWTExpiration:       time.Hour,
		TwoFactorTokenTTL:   5 * time.Minute,
		ResetCodeTTL:        15 * time.Minute,
		ResetTokenTTL:       10 * time.Minute,
		TOTPIssuer:          "HRMS",
		DefaultLeaveBalance: 30,
		MaxUploadMiB:        1,
	}
}

// createUser stores an active user with testPassword. Options run before
// the insert.
func createUser(t *testing.T, db *gorm.DB, role models.Role, opts ...func(*models.User)) *models.User {
	t.Helper()
	testHashOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
		if err != nil {
			panic(err)
		}
		testHash = string(h)
	})

	n := userSeq.Add(1)
	user := &models.User{
		CIN:          fmt.Sprintf("%08d", 10000000+n),
		Email:        fmt.Sprintf("user%d@example.com", n),
		FirstName:    "User",
		LastName:     fmt.Sprintf("N%d", n),
		Role:         role,
		Status:       models.StatusActive,
		LeaveBalance: 30,
		PasswordHash: testHash,
	}
	for _, opt := range opts {
		opt(user)
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func inDepartment(id uint) func(*models.User) {
	return func(u *models.User) { u.DepartmentID = &id }
}

func supervisedBy(id uint) func(*models.User) {
	return func(u *models.User) { u.SupervisorID = &id }
}

func createDepartment(t *testing.T, db *gorm.DB, name string) *models.Department {
	t.Helper()
	d := &models.Department{Name: name}
	require.NoError(t, db.Create(d).Error)
	return d
}

func createShift(t *testing.T, db *gorm.DB, name, start, end string) *models.Shift {
	t.Helper()
	s := &models.Shift{Name: name, StartTime: start, EndTime: end}
	require.NoError(t, db.Create(s).Error)
	return s
}

func notificationsFor(t *testing.T, db *gorm.DB, userID uint) []models.Notification {
	t.Helper()
	var out []models.Notification
	require.NoError(t, db.Where("user_id = ?", userID).Order("id asc").Find(&out).Error)
	return out
}

func ptr[T any](v T) *T { return &v }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type sentMail struct {
	To, Subject, Body string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *recordingMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *recordingMailer) last() sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMail{}
	}
	return m.sent[len(m.sent)-1]
}
