package services

import (
	"context"
	"time"

	"hrms/models"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const notificationListLimit = 100

type NotificationService struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewNotificationService(db *gorm.DB, log *zap.Logger) *NotificationService {
	return &NotificationService{db: db, log: orNop(log)}
}

// Notice is the payload fanned out to one or more recipients.
type Notice struct {
	Type    models.NotificationType
	Title   string
	Message string
	Link    string
}

// NotifyTx writes one notification per distinct recipient inside tx.
func NotifyTx(tx *gorm.DB, recipients []uint, n Notice) error {
	seen := make(map[uint]struct{}, len(recipients))
	rows := make([]models.Notification, 0, len(recipients))
	for _, id := range recipients {
		if _, dup := seen[id]; dup || id == 0 {
			continue
		}
		seen[id] = struct{}{}
		rows = append(rows, models.Notification{
			UserID:  id,
			Type:    n.Type,
			Title:   n.Title,
			Message: n.Message,
			Link:    n.Link,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return errors.Wrap(tx.Create(&rows).Error, "create notifications")
}

// Notify writes notifications outside of any caller transaction.
func (s *NotificationService) Notify(ctx context.Context, recipients []uint, n Notice) error {
	return NotifyTx(s.db.WithContext(ctx), recipients, n)
}

func (s *NotificationService) List(ctx context.Context, user *models.User, unreadOnly bool) ([]models.Notification, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", user.ID)
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}
	var out []models.Notification
	err := query.Order("created_at desc, id desc").Limit(notificationListLimit).Find(&out).Error
	return out, errors.Wrap(err, "list notifications")
}

func (s *NotificationService) UnreadCount(ctx context.Context, user *models.User) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", user.ID, false).
		Count(&count).Error
	return count, errors.Wrap(err, "count unread notifications")
}

func (s *NotificationService) MarkRead(ctx context.Context, user *models.User, id uint) (*models.Notification, error) {
	var n models.Notification
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, user.ID).First(&n).Error; err != nil {
		return nil, notFound(err, "load notification")
	}
	if n.IsRead {
		return &n, nil
	}
	now := time.Now().UTC()
	n.IsRead = true
	n.ReadAt = &now
	if err := s.db.WithContext(ctx).Model(&n).Updates(map[string]interface{}{"is_read": true, "read_at": now}).Error; err != nil {
		return nil, errors.Wrap(err, "mark notification read")
	}
	return &n, nil
}

// MarkAllRead returns the number of notifications flipped to read.
func (s *NotificationService) MarkAllRead(ctx context.Context, user *models.User) (int64, error) {
	result := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", user.ID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": time.Now().UTC()})
	return result.RowsAffected, errors.Wrap(result.Error, "mark all notifications read")
}

func (s *NotificationService) Delete(ctx context.Context, user *models.User, id uint) error {
	result := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, user.ID).Delete(&models.Notification{})
	if result.Error != nil {
		return errors.Wrap(result.Error, "delete notification")
	}
	if result.RowsAffected == 0 {
		return errors.Wrap(ErrNotFound, "delete notification")
	}
	return nil
}

func orNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
