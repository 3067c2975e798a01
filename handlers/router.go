package handlers

import (
	"net/http"
	"time"

	"hrms/config"
	"hrms/middleware"
	"hrms/models"
	"hrms/services"
	"hrms/storage"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const requestTimeout = 60 * time.Second

// Services bundles everything the API needs. Build it with NewServices.
type Services struct {
	Auth          *services.AuthService
	Users         *services.UserService
	Departments   *services.DepartmentService
	Positions     *services.PositionService
	Shifts        *services.ShiftService
	Schedules     *services.ScheduleService
	Leave         *services.LeaveService
	Notifications *services.NotificationService
	Categories    *services.DocumentCategoryService
	Documents     *services.DocumentService
	Dashboard     *services.DashboardService
	Exports       *services.ExportService
}

func NewServices(db *gorm.DB, cfg *config.Config, store storage.Store, mailer services.Mailer, log *zap.Logger) *Services {
	return &Services{
		Auth:          services.NewAuthService(db, cfg, mailer, log.Named("auth")),
		Users:         services.NewUserService(db, cfg.DefaultLeaveBalance, log.Named("users")),
		Departments:   services.NewDepartmentService(db, log.Named("departments")),
		Positions:     services.NewPositionService(db, log.Named("positions")),
		Shifts:        services.NewShiftService(db, log.Named("shifts")),
		Schedules:     services.NewScheduleService(db, log.Named("schedules")),
		Leave:         services.NewLeaveService(db, log.Named("leave")),
		Notifications: services.NewNotificationService(db, log.Named("notifications")),
		Categories:    services.NewDocumentCategoryService(db, log.Named("documents")),
		Documents:     services.NewDocumentService(db, store, cfg.MaxUploadBytes(), log.Named("documents")),
		Dashboard:     services.NewDashboardService(db, log.Named("dashboard")),
		Exports:       services.NewExportService(db, log.Named("exports")),
	}
}

func NewRouter(cfg *config.Config, db *gorm.DB, svc *Services, log *zap.Logger) http.Handler {
	authHandler := NewAuthHandler(svc.Auth)
	userHandler := NewUserHandler(svc.Users, svc.Exports)
	departmentHandler := NewDepartmentHandler(svc.Departments, svc.Positions)
	shiftHandler := NewShiftHandler(svc.Shifts, svc.Schedules)
	leaveHandler := NewLeaveHandler(svc.Leave, svc.Exports)
	notificationHandler := NewNotificationHandler(svc.Notifications)
	documentHandler := NewDocumentHandler(svc.Categories, svc.Documents, cfg.MaxUploadBytes())
	dashboardHandler := NewDashboardHandler(svc.Dashboard)

	hr := middleware.RequireRole(models.RoleDHR, models.RoleHR)
	planners := middleware.RequireRole(models.RoleDHR, models.RoleHR, models.RoleManager)
	reviewers := middleware.RequireRole(models.RoleDHR, models.RoleHR, models.RoleManager, models.RoleTeamLeader)

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestLogger(log))
	router.Use(chimiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	router.Use(chimiddleware.Timeout(requestTimeout))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	router.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/2fa/verify", authHandler.VerifyTwoFactor)
		r.Post("/auth/forgot-password", authHandler.ForgotPassword)
		r.Post("/auth/verify-reset-code", authHandler.VerifyResetCode)
		r.Post("/auth/reset-password", authHandler.ResetPassword)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware)

			// Reachable while a password change is still pending
			r.Get("/auth/me", authHandler.Me)
			r.Post("/auth/change-password", authHandler.ChangePassword)
			r.Post("/auth/2fa/setup", authHandler.SetupTwoFactor)
			r.Post("/auth/2fa/enable", authHandler.EnableTwoFactor)
			r.Post("/auth/2fa/disable", authHandler.DisableTwoFactor)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequirePasswordChange)

				r.Route("/users", func(r chi.Router) {
					r.Get("/", userHandler.List)
					r.With(hr).Post("/", userHandler.Create)
					r.With(hr).Get("/export", userHandler.Export)
					r.Get("/{id}", userHandler.Get)
					r.Put("/{id}", userHandler.Update)
					r.With(hr).Delete("/{id}", userHandler.Delete)
				})

				r.Route("/departments", func(r chi.Router) {
					r.Get("/", departmentHandler.List)
					r.Get("/{id}", departmentHandler.Get)
					r.Group(func(r chi.Router) {
						r.Use(hr)
						r.Post("/", departmentHandler.Create)
						r.Put("/{id}", departmentHandler.Update)
						r.Delete("/{id}", departmentHandler.Delete)
					})
				})

				r.Route("/positions", func(r chi.Router) {
					r.Get("/", departmentHandler.ListPositions)
					r.Get("/{id}", departmentHandler.GetPosition)
					r.Group(func(r chi.Router) {
						r.Use(hr)
						r.Post("/", departmentHandler.CreatePosition)
						r.Put("/{id}", departmentHandler.UpdatePosition)
						r.Delete("/{id}", departmentHandler.DeletePosition)
					})
				})

				r.Route("/shifts", func(r chi.Router) {
					r.Get("/", shiftHandler.List)
					r.Get("/{id}", shiftHandler.Get)
					r.Group(func(r chi.Router) {
						r.Use(planners)
						r.Post("/", shiftHandler.Create)
						r.Put("/{id}", shiftHandler.Update)
						r.Delete("/{id}", shiftHandler.Delete)
					})
				})

				r.Route("/schedules", func(r chi.Router) {
					r.Get("/", shiftHandler.ListSchedules)
					r.Group(func(r chi.Router) {
						r.Use(planners)
						r.Post("/", shiftHandler.AssignSchedule)
						r.Post("/bulk", shiftHandler.BulkAssign)
						r.Put("/{id}", shiftHandler.UpdateSchedule)
						r.Delete("/{id}", shiftHandler.DeleteSchedule)
					})
				})

				r.Route("/leave-requests", func(r chi.Router) {
					r.Post("/", leaveHandler.Create)
					r.Get("/mine", leaveHandler.ListMine)
					r.With(hr).Get("/export", leaveHandler.Export)
					r.With(reviewers).Get("/", leaveHandler.ListReviewable)
					r.Get("/{id}", leaveHandler.Get)
					r.Delete("/{id}", leaveHandler.Delete)
					r.With(reviewers).Post("/{id}/approve", leaveHandler.Approve)
					r.With(reviewers).Post("/{id}/decline", leaveHandler.Decline)
				})

				r.Route("/notifications", func(r chi.Router) {
					r.Get("/", notificationHandler.List)
					r.Get("/unread-count", notificationHandler.UnreadCount)
					r.Post("/read-all", notificationHandler.MarkAllRead)
					r.Post("/{id}/read", notificationHandler.MarkRead)
					r.Delete("/{id}", notificationHandler.Delete)
				})

				r.Route("/document-categories", func(r chi.Router) {
					r.Get("/", documentHandler.ListCategories)
					r.Group(func(r chi.Router) {
						r.Use(hr)
						r.Post("/", documentHandler.CreateCategory)
						r.Put("/{id}", documentHandler.UpdateCategory)
						r.Delete("/{id}", documentHandler.DeleteCategory)
					})
				})

				r.Route("/documents", func(r chi.Router) {
					r.Get("/", documentHandler.List)
					r.Post("/", documentHandler.Upload)
					r.Get("/{id}", documentHandler.Get)
					r.Get("/{id}/download", documentHandler.Download)
					r.Delete("/{id}", documentHandler.Delete)
				})

				r.Route("/dashboard", func(r chi.Router) {
					r.With(planners).Get("/overview", dashboardHandler.Overview)
					r.Get("/me", dashboardHandler.Personal)
				})
			})
		})
	})

	return router
}
