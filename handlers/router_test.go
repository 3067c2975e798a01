package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hrms/config"
	"hrms/database"
	"hrms/middleware"
	"hrms/models"
	"hrms/services"
	"hrms/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const testPassword = "Password1!"

type testServer struct {
	t       *testing.T
	db      *gorm.DB
	handler http.Handler
	seq     int
	hash    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	middleware.SetJWTSecret("test-secret")

	db, err := database.Open("sqlite", "file::memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	database.DB = db
	t.Cleanup(func() {
		database.DB = nil
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	cfg := &config.Config{
		JWTExpiration:       time.Hour,
		TwoFactorTokenTTL:   5 * time.Minute,
		ResetCodeTTL:        15 * time.Minute,
		ResetTokenTTL:       10 * time.Minute,
		TOTPIssuer:          "HRMS",
		CORSOrigins:         []string{"http://localhost:5173"},
		MaxUploadMiB:        1,
		DefaultLeaveBalance: 30,
	}
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	log := zap.NewNop()
	svc := NewServices(db, cfg, store, services.NewMailer(cfg.SMTP, log), log)

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	return &testServer{t: t, db: db, handler: NewRouter(cfg, db, svc, log), hash: string(hash)}
}

func (s *testServer) user(role models.Role, opts ...func(*models.User)) *models.User {
	s.t.Helper()
	s.seq++
	u := &models.User{
		CIN:          fmt.Sprintf("%08d", 20000000+s.seq),
		Email:        fmt.Sprintf("staff%d@example.com", s.seq),
		FirstName:    "Staff",
		LastName:     fmt.Sprintf("S%d", s.seq),
		Role:         role,
		Status:       models.StatusActive,
		LeaveBalance: 30,
		PasswordHash: s.hash,
	}
	for _, opt := range opts {
		opt(u)
	}
	require.NoError(s.t, s.db.Create(u).Error)
	return u
}

func (s *testServer) token(u *models.User) string {
	s.t.Helper()
	token, err := middleware.GenerateToken(u, time.Hour)
	require.NoError(s.t, err)
	return token
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestLoginFlow(t *testing.T) {
	s := newTestServer(t)
	u := s.user(models.RoleEmployee)

	rec := s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"cin": u.CIN, "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"cin": u.CIN})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"cin": u.CIN, "password": testPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	login := decode[services.LoginResult](t, rec)
	require.NotEmpty(t, login.AccessToken)
	assert.False(t, login.RequiresTwoFactor)

	rec = s.do(http.MethodGet, "/api/auth/me", login.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[models.User](t, rec)
	assert.Equal(t, u.ID, me.ID)
	assert.Empty(t, me.PasswordHash)
}

func TestAuthGates(t *testing.T) {
	s := newTestServer(t)
	employee := s.token(s.user(models.RoleEmployee))
	manager := s.token(s.user(models.RoleManager))
	teamLeader := s.token(s.user(models.RoleTeamLeader))
	hr := s.token(s.user(models.RoleHR))

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/api/users", "", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/api/users", "not-a-jwt", http.StatusUnauthorized},
		{"employee lists users", http.MethodGet, "/api/users", employee, http.StatusOK},
		{"employee exports users", http.MethodGet, "/api/users/export", employee, http.StatusForbidden},
		{"manager exports users", http.MethodGet, "/api/users/export", manager, http.StatusForbidden},
		{"hr exports users", http.MethodGet, "/api/users/export", hr, http.StatusOK},
		{"employee creates department", http.MethodPost, "/api/departments", employee, http.StatusForbidden},
		{"employee reviews leave", http.MethodGet, "/api/leave-requests", employee, http.StatusForbidden},
		{"team leader reviews leave", http.MethodGet, "/api/leave-requests", teamLeader, http.StatusOK},
		{"manager exports leave", http.MethodGet, "/api/leave-requests/export", manager, http.StatusForbidden},
		{"employee overview", http.MethodGet, "/api/dashboard/overview", employee, http.StatusForbidden},
		{"hr overview", http.MethodGet, "/api/dashboard/overview", hr, http.StatusOK},
		{"employee personal dashboard", http.MethodGet, "/api/dashboard/me", employee, http.StatusOK},
		{"employee creates shift", http.MethodPost, "/api/shifts", employee, http.StatusForbidden},
		{"unknown id", http.MethodGet, "/api/users/abc", employee, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, tt.token, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestPasswordChangeGate(t *testing.T) {
	s := newTestServer(t)
	u := s.user(models.RoleEmployee, func(u *models.User) { u.MustChangePassword = true })
	token := s.token(u)

	rec := s.do(http.MethodGet, "/api/notifications", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/auth/change-password", token, map[string]string{
		"current_password": testPassword,
		"new_password":     "Another-Secret1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/notifications", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateUser(t *testing.T) {
	s := newTestServer(t)
	hr := s.token(s.user(models.RoleHR))

	body := map[string]interface{}{
		"cin":        "12345678",
		"email":      "Sami.Trabelsi@Example.com",
		"first_name": "Sami",
		"last_name":  "Trabelsi",
		"role":       "EMPLOYEE",
	}
	rec := s.do(http.MethodPost, "/api/users", hr, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[services.CreatedUser](t, rec)
	assert.Equal(t, "sami.trabelsi@example.com", created.User.Email)
	assert.NotEmpty(t, created.GeneratedPassword)

	rec = s.do(http.MethodPost, "/api/users", hr, body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/api/users", hr, map[string]interface{}{"cin": "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	fields := decode[struct {
		Fields map[string]string `json:"fields"`
	}](t, rec).Fields
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "role")
}

func TestDeclineRequiresComment(t *testing.T) {
	s := newTestServer(t)
	employee := s.user(models.RoleEmployee)
	hr := s.token(s.user(models.RoleHR))

	start := time.Now().UTC().AddDate(0, 0, 10).Truncate(24 * time.Hour)
	req := &models.LeaveRequest{
		UserID:    employee.ID,
		Type:      models.LeaveSick,
		StartDate: start,
		EndDate:   start.AddDate(0, 0, 1),
		Days:      2,
		Status:    models.LeavePending,
	}
	require.NoError(t, s.db.Create(req).Error)
	path := fmt.Sprintf("/api/leave-requests/%d/decline", req.ID)

	rec := s.do(http.MethodPost, path, hr, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, path, hr, map[string]string{"comment": "team is short that week"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.LeaveDeclined, decode[models.LeaveRequest](t, rec).Status)

	rec = s.do(http.MethodPost, fmt.Sprintf("/api/leave-requests/%d/approve", req.ID), hr, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDocumentUploadDownload(t *testing.T) {
	s := newTestServer(t)
	employee := s.user(models.RoleEmployee)
	token := s.token(employee)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	require.NoError(t, form.WriteField("title", "Contract"))
	part, err := form.CreateFormFile("file", "contract.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("signed on the dotted line"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	doc := decode[models.Document](t, rec)
	assert.Equal(t, "Contract", doc.Title)
	assert.Equal(t, employee.ID, doc.OwnerID)

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/documents/%d/download", doc.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "signed on the dotted line", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "contract.txt")

	other := s.token(s.user(models.RoleEmployee))
	rec = s.do(http.MethodGet, fmt.Sprintf("/api/documents/%d/download", doc.ID), other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDecideWithChunkedBody(t *testing.T) {
	s := newTestServer(t)
	employee := s.user(models.RoleEmployee)
	hr := s.token(s.user(models.RoleHR))

	start := time.Now().UTC().AddDate(0, 0, 10).Truncate(24 * time.Hour)
	pending := func() uint {
		req := &models.LeaveRequest{UserID: employee.ID, Type: models.LeaveUnpaid, StartDate: start, EndDate: start, Days: 1, Status: models.LeavePending}
		require.NoError(t, s.db.Create(req).Error)
		start = start.AddDate(0, 0, 7)
		return req.ID
	}
	send := func(path string, body io.Reader) *httptest.ResponseRecorder {
		// A plain io.Reader leaves ContentLength at -1, as with chunked uploads.
		req := httptest.NewRequest(http.MethodPost, path, body)
		require.EqualValues(t, -1, req.ContentLength)
		req.Header.Set("Authorization", "Bearer "+hr)
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := send(fmt.Sprintf("/api/leave-requests/%d/approve", pending()), io.MultiReader())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.LeaveAccepted, decode[models.LeaveRequest](t, rec).Status)

	rec = send(fmt.Sprintf("/api/leave-requests/%d/decline", pending()), io.MultiReader(strings.NewReader(`{"comment":"short staffed"}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "short staffed", decode[models.LeaveRequest](t, rec).Comment)

	rec = send(fmt.Sprintf("/api/leave-requests/%d/approve", pending()), io.MultiReader(strings.NewReader(`{"comment":`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadNeutralizesActiveContent(t *testing.T) {
	s := newTestServer(t)
	token := s.token(s.user(models.RoleEmployee))

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	require.NoError(t, form.WriteField("title", "Page"))
	part, err := form.CreateFormFile("file", "page.html")
	require.NoError(t, err)
	_, err = part.Write([]byte("<script>alert(document.cookie)</script>"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	doc := decode[models.Document](t, rec)

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/documents/%d/download", doc.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
}

func TestDownloadType(t *testing.T) {
	assert.Equal(t, "application/pdf", downloadType("application/pdf"))
	assert.Equal(t, "text/plain; charset=utf-8", downloadType("text/plain; charset=utf-8"))
	assert.Equal(t, "application/octet-stream", downloadType("text/html; charset=utf-8"))
	assert.Equal(t, "application/octet-stream", downloadType("image/svg+xml"))
	assert.Equal(t, "application/octet-stream", downloadType(""))
}
