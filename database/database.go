package database

import (
	stdlog "log"
	"os"
	"time"

	"hrms/models"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Default account created on an empty database. The password must be
// changed on first login.
const (
	DefaultAdminCIN      = "00000000"
	DefaultAdminEmail    = "dhr@hrms.local"
	DefaultAdminPassword = "ChangeMe!2024"
)

const slowQueryThreshold = 200 * time.Millisecond

// NewGormLogger reports slow queries and errors to w. Missing rows are an
// expected outcome of lookups and are not logged.
func NewGormLogger(w logger.Writer) logger.Interface {
	return logger.New(w, logger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// Open connects to the database without touching the package-level handle.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, errors.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   NewGormLogger(stdlog.New(os.Stdout, "\r\n", stdlog.LstdFlags)),
		DisableForeignKeyConstraintWhenMigrating: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, err
	}

	if driver == "sqlite" {
		// In-memory sqlite databases are per connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(models.All()...)
}

// Init opens the database, migrates the schema and makes sure a DHR
// account exists.
func Init(driver, dsn string, defaultLeaveBalance int, log *zap.Logger) error {
	db, err := Open(driver, dsn)
	if err != nil {
		return err
	}
	if log != nil {
		db.Logger = NewGormLogger(zap.NewStdLog(log.Named("gorm")))
	}

	if err := Migrate(db); err != nil {
		return err
	}

	if err := seedDefaultAdmin(db, defaultLeaveBalance, log); err != nil {
		return err
	}

	DB = db
	return nil
}

func seedDefaultAdmin(db *gorm.DB, leaveBalance int, log *zap.Logger) error {
	var count int64
	if err := db.Model(&models.User{}).Where("role = ?", models.RoleDHR).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(DefaultAdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := models.User{
		CIN:                DefaultAdminCIN,
		Email:              DefaultAdminEmail,
		FirstName:          "Human",
		LastName:           "Resources",
		PasswordHash:       string(hashedPassword),
		Role:               models.RoleDHR,
		Status:             models.StatusActive,
		LeaveBalance:       leaveBalance,
		MustChangePassword: true,
	}

	if err := db.Create(&admin).Error; err != nil {
		return err
	}

	if log != nil {
		log.Info("default DHR account created",
			zap.String("cin", DefaultAdminCIN),
			zap.String("email", DefaultAdminEmail))
	}
	return nil
}

func GetDB() *gorm.DB {
	return DB
}
