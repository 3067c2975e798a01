package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"image/png"
	"math/big"
	"time"

	"hrms/config"
	"hrms/middleware"
	"hrms/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const qrImageSize = 200

// MaxResetAttempts is the number of wrong codes after which a reset code is
// thrown away.
const MaxResetAttempts = 5

// Used to keep the timing of unknown-account logins close to real ones.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)

type AuthService struct {
	db     *gorm.DB
	log    *zap.Logger
	mailer Mailer
	cfg    *config.Config
	now    func() time.Time
}

func NewAuthService(db *gorm.DB, cfg *config.Config, mailer Mailer, log *zap.Logger) *AuthService {
	return &AuthService{db: db, log: orNop(log), mailer: mailer, cfg: cfg, now: time.Now}
}

// LoginResult carries either a full access token or, for accounts with
// two-factor authentication, a short-lived token to exchange at the
// verification step.
type LoginResult struct {
	AccessToken       string       `json:"access_token,omitempty"`
	RequiresTwoFactor bool         `json:"requires_two_factor"`
	TwoFactorToken    string       `json:"two_factor_token,omitempty"`
	User              *models.User `json:"user,omitempty"`
}

// TwoFactorSetup is returned when a user starts enrolling an authenticator.
type TwoFactorSetup struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauth_url"`
	QRCode     string `json:"qr_code"`
}

func (s *AuthService) Login(ctx context.Context, cin, password string) (*LoginResult, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("cin = ?", cin).First(&user).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrap(err, "load user")
		}
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive() {
		return nil, ErrInvalidCredentials
	}

	if user.TwoFactorEnabled {
		token, err := middleware.GenerateScopedToken(&user, middleware.ScopeTwoFactor, "", s.cfg.TwoFactorTokenTTL)
		if err != nil {
			return nil, errors.Wrap(err, "issue two-factor token")
		}
		s.log.Info("login awaiting second factor", zap.Uint("user_id", user.ID))
		return &LoginResult{RequiresTwoFactor: true, TwoFactorToken: token}, nil
	}

	return s.completeLogin(ctx, &user)
}

// VerifyTwoFactor exchanges a two-factor token plus a TOTP code for an
// access token.
func (s *AuthService) VerifyTwoFactor(ctx context.Context, twoFactorToken, code string) (*LoginResult, error) {
	claims, err := middleware.ValidateScopedToken(twoFactorToken, middleware.ScopeTwoFactor)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err.Error())
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, claims.UserID).Error; err != nil {
		return nil, errors.Wrap(ErrInvalidToken, "two-factor token subject")
	}
	if !user.IsActive() || !user.TwoFactorEnabled {
		return nil, ErrInvalidToken
	}

	if !s.validCode(code, user.TwoFactorSecret) {
		s.log.Warn("rejected two-factor code", zap.Uint("user_id", user.ID))
		return nil, ErrInvalidCredentials
	}

	return s.completeLogin(ctx, &user)
}

func (s *AuthService) completeLogin(ctx context.Context, user *models.User) (*LoginResult, error) {
	token, err := middleware.GenerateToken(user, s.cfg.JWTExpiration)
	if err != nil {
		return nil, errors.Wrap(err, "issue access token")
	}

	now := s.now().UTC()
	user.LastLoginAt = &now
	if err := s.db.WithContext(ctx).Model(user).Update("last_login_at", now).Error; err != nil {
		s.log.Warn("failed to record login time", zap.Uint("user_id", user.ID), zap.Error(err))
	}

	s.log.Info("user logged in", zap.Uint("user_id", user.ID))
	return &LoginResult{AccessToken: token, User: user}, nil
}

func (s *AuthService) validCode(code, secret string) bool {
	if secret == "" || code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, s.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// SetupTwoFactor generates a new secret for user and keeps it pending until
// EnableTwoFactor confirms a code from it.
func (s *AuthService) SetupTwoFactor(ctx context.Context, user *models.User) (*TwoFactorSetup, error) {
	if user.TwoFactorEnabled {
		return nil, errors.Wrap(ErrConflict, "two-factor authentication already enabled")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.TOTPIssuer,
		AccountName: user.Email,
	})
	if err != nil {
		return nil, errors.Wrap(err, "generate totp key")
	}

	img, err := key.Image(qrImageSize, qrImageSize)
	if err != nil {
		return nil, errors.Wrap(err, "render qr code")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "encode qr code")
	}

	if err := s.db.WithContext(ctx).Model(user).Update("pending_two_factor_secret", key.Secret()).Error; err != nil {
		return nil, errors.Wrap(err, "store pending secret")
	}
	user.PendingTwoFactorSecret = key.Secret()

	return &TwoFactorSetup{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
		QRCode:     "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

func (s *AuthService) EnableTwoFactor(ctx context.Context, user *models.User, code string) error {
	if user.TwoFactorEnabled {
		return errors.Wrap(ErrConflict, "two-factor authentication already enabled")
	}
	if user.PendingTwoFactorSecret == "" {
		return invalid("code", "start two-factor setup first")
	}
	if !s.validCode(code, user.PendingTwoFactorSecret) {
		return invalid("code", "code is not valid")
	}

	err := s.db.WithContext(ctx).Model(user).Updates(map[string]interface{}{
		"two_factor_enabled":        true,
		"two_factor_secret":         user.PendingTwoFactorSecret,
		"pending_two_factor_secret": "",
	}).Error
	if err != nil {
		return errors.Wrap(err, "enable two-factor")
	}
	user.TwoFactorEnabled = true
	user.TwoFactorSecret = user.PendingTwoFactorSecret
	user.PendingTwoFactorSecret = ""

	s.log.Info("two-factor enabled", zap.Uint("user_id", user.ID))
	return nil
}

func (s *AuthService) DisableTwoFactor(ctx context.Context, user *models.User, password, code string) error {
	if !user.TwoFactorEnabled {
		return errors.Wrap(ErrConflict, "two-factor authentication is not enabled")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return invalid("password", "password is incorrect")
	}
	if !s.validCode(code, user.TwoFactorSecret) {
		return invalid("code", "code is not valid")
	}

	err := s.db.WithContext(ctx).Model(user).Updates(map[string]interface{}{
		"two_factor_enabled": false,
		"two_factor_secret":  "",
	}).Error
	if err != nil {
		return errors.Wrap(err, "disable two-factor")
	}
	user.TwoFactorEnabled = false
	user.TwoFactorSecret = ""

	s.log.Info("two-factor disabled", zap.Uint("user_id", user.ID))
	return nil
}

// ForgotPassword mails a one-time reset code to the account behind email.
// Unknown or inactive addresses are ignored without an error so callers
// cannot discover which accounts exist.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)

	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Debug("password reset for unknown email")
			return nil
		}
		return errors.Wrap(err, "load user")
	}
	if !user.IsActive() {
		return nil
	}

	code, err := resetCode()
	if err != nil {
		return errors.Wrap(err, "generate reset code")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "hash reset code")
	}

	expires := s.now().UTC().Add(s.cfg.ResetCodeTTL)
	err = s.db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
		"reset_code_hash":       string(hash),
		"reset_code_expires_at": expires,
		"reset_token_id":        "",
		"reset_attempts":        0,
	}).Error
	if err != nil {
		return errors.Wrap(err, "store reset code")
	}

	body := fmt.Sprintf("Hello %s,\n\nYour password reset code is %s. It expires in %d minutes.\n\nIf you did not ask for a reset, ignore this message.\n",
		user.FirstName, code, int(s.cfg.ResetCodeTTL.Minutes()))
	if err := s.mailer.Send(ctx, user.Email, "Password reset code", body); err != nil {
		// The answer must not depend on whether the account exists.
		s.log.Error("failed to send reset code", zap.Uint("user_id", user.ID), zap.Error(err))
		if err := s.clearResetCode(ctx, user.ID); err != nil {
			s.log.Warn("failed to discard unsent reset code", zap.Uint("user_id", user.ID), zap.Error(err))
		}
	}
	return nil
}

func (s *AuthService) clearResetCode(ctx context.Context, userID uint) error {
	return s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"reset_code_hash":       "",
		"reset_code_expires_at": nil,
		"reset_attempts":        0,
	}).Error
}

// recordResetFailure counts a wrong code and discards the code once
// MaxResetAttempts is reached.
func (s *AuthService) recordResetFailure(ctx context.Context, userID uint) error {
	db := s.db.WithContext(ctx)
	err := db.Model(&models.User{}).Where("id = ?", userID).
		UpdateColumn("reset_attempts", gorm.Expr("reset_attempts + 1")).Error
	if err != nil {
		return errors.Wrap(err, "count reset attempt")
	}
	result := db.Model(&models.User{}).
		Where("id = ? AND reset_attempts >= ?", userID, MaxResetAttempts).
		Updates(map[string]interface{}{
			"reset_code_hash":       "",
			"reset_code_expires_at": nil,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "discard reset code")
	}
	if result.RowsAffected > 0 {
		s.log.Warn("reset code discarded after too many attempts", zap.Uint("user_id", userID))
	}
	return nil
}

// VerifyResetCode consumes a reset code and returns a reset token bound to a
// fresh reset session.
func (s *AuthService) VerifyResetCode(ctx context.Context, email, code string) (string, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", errors.Wrap(err, "load user")
	}

	if !user.IsActive() || user.ResetCodeHash == "" || user.ResetCodeExpiresAt == nil {
		return "", ErrInvalidCredentials
	}
	if s.now().UTC().After(*user.ResetCodeExpiresAt) {
		return "", errors.Wrap(ErrInvalidToken, "reset code expired")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.ResetCodeHash), []byte(code)); err != nil {
		if err := s.recordResetFailure(ctx, user.ID); err != nil {
			return "", err
		}
		return "", ErrInvalidCredentials
	}

	sessionID := uuid.NewString()
	err := s.db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
		"reset_code_hash":       "",
		"reset_code_expires_at": nil,
		"reset_token_id":        sessionID,
		"reset_attempts":        0,
	}).Error
	if err != nil {
		return "", errors.Wrap(err, "open reset session")
	}

	token, err := middleware.GenerateScopedToken(&user, middleware.ScopeReset, sessionID, s.cfg.ResetTokenTTL)
	if err != nil {
		return "", errors.Wrap(err, "issue reset token")
	}
	return token, nil
}

// ResetPassword sets a new password using a reset token. The token's
// session is closed afterwards so the token cannot be replayed.
func (s *AuthService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	v := &ValidationError{}
	checkPassword(v, "new_password", newPassword)
	if v.HasErrors() {
		return v
	}

	claims, err := middleware.ValidateScopedToken(resetToken, middleware.ScopeReset)
	if err != nil {
		return errors.Wrap(ErrInvalidToken, err.Error())
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, claims.UserID).Error; err != nil {
		return errors.Wrap(ErrInvalidToken, "reset token subject")
	}
	if user.ResetTokenID == "" || claims.SessionID != user.ResetTokenID {
		return errors.Wrap(ErrInvalidToken, "reset session closed")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The session id condition makes two concurrent resets race to one winner.
		result := tx.Model(&models.User{}).
			Where("id = ? AND reset_token_id = ?", user.ID, claims.SessionID).
			Updates(map[string]interface{}{
				"password_hash":        string(hash),
				"reset_token_id":       "",
				"must_change_password": false,
			})
		if result.Error != nil {
			return errors.Wrap(result.Error, "store password")
		}
		if result.RowsAffected == 0 {
			return errors.Wrap(ErrInvalidToken, "reset session closed")
		}
		s.log.Info("password reset", zap.Uint("user_id", user.ID))
		return NotifyTx(tx, []uint{user.ID}, Notice{
			Type:    models.NotificationAccount,
			Title:   "Password reset",
			Message: "Your password was reset. Contact HR if this was not you.",
		})
	})
}

func (s *AuthService) ChangePassword(ctx context.Context, user *models.User, currentPassword, newPassword string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return invalid("current_password", "current password is incorrect")
	}

	v := &ValidationError{}
	checkPassword(v, "new_password", newPassword)
	if newPassword == currentPassword {
		v.Add("new_password", "must differ from the current password")
	}
	if v.HasErrors() {
		return v
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}

	err = s.db.WithContext(ctx).Model(user).Updates(map[string]interface{}{
		"password_hash":        string(hash),
		"must_change_password": false,
	}).Error
	if err != nil {
		return errors.Wrap(err, "store password")
	}
	user.PasswordHash = string(hash)
	user.MustChangePassword = false
	return nil
}

// Me reloads user with department and position.
func (s *AuthService) Me(ctx context.Context, user *models.User) (*models.User, error) {
	var out models.User
	err := s.db.WithContext(ctx).Preload("Department").Preload("Position").First(&out, user.ID).Error
	if err != nil {
		return nil, notFound(err, "load profile")
	}
	return &out, nil
}

func resetCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
