package services

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"hrms/models"
	"hrms/storage"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrTooLarge is returned when an upload exceeds the configured limit.
var ErrTooLarge = errors.New("file too large")

type DocumentCategoryService struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewDocumentCategoryService(db *gorm.DB, log *zap.Logger) *DocumentCategoryService {
	return &DocumentCategoryService{db: db, log: orNop(log)}
}

type CategoryInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (s *DocumentCategoryService) List(ctx context.Context) ([]models.DocumentCategory, error) {
	var out []models.DocumentCategory
	if err := s.db.WithContext(ctx).Order("name asc").Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "list categories")
	}
	return out, nil
}

func (s *DocumentCategoryService) Get(ctx context.Context, id uint) (*models.DocumentCategory, error) {
	var c models.DocumentCategory
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, notFound(err, "load category")
	}
	return &c, nil
}

func (s *DocumentCategoryService) Create(ctx context.Context, in CategoryInput) (*models.DocumentCategory, error) {
	if in.Name == nil {
		return nil, invalid("name", "is required")
	}
	c := &models.DocumentCategory{}
	if err := s.apply(ctx, c, in); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, errors.Wrap(err, "create category")
	}
	return c, nil
}

func (s *DocumentCategoryService) Update(ctx context.Context, id uint, in CategoryInput) (*models.DocumentCategory, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, c, in); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(c).Error; err != nil {
		return nil, errors.Wrap(err, "update category")
	}
	return c, nil
}

func (s *DocumentCategoryService) Delete(ctx context.Context, id uint) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if used, err := exists(s.db.WithContext(ctx), &models.Document{}, "category_id = ?", id); err != nil {
		return err
	} else if used {
		return errors.Wrap(ErrConflict, "category still has documents")
	}
	return errors.Wrap(s.db.WithContext(ctx).Delete(c).Error, "delete category")
}

func (s *DocumentCategoryService) apply(ctx context.Context, c *models.DocumentCategory, in CategoryInput) error {
	if in.Name != nil {
		name := cleanText(*in.Name)
		if name == "" {
			return invalid("name", "is required")
		}
		taken, err := exists(s.db.WithContext(ctx), &models.DocumentCategory{}, "LOWER(name) = ? AND id <> ?", strings.ToLower(name), c.ID)
		if err != nil {
			return err
		}
		if taken {
			return errors.Wrap(ErrConflict, "a category with this name already exists")
		}
		c.Name = name
	}
	if in.Description != nil {
		c.Description = strings.TrimSpace(*in.Description)
	}
	return nil
}

type DocumentService struct {
	db       *gorm.DB
	log      *zap.Logger
	store    storage.Store
	maxBytes int64
}

func NewDocumentService(db *gorm.DB, store storage.Store, maxBytes int64, log *zap.Logger) *DocumentService {
	return &DocumentService{db: db, store: store, maxBytes: maxBytes, log: orNop(log)}
}

type UploadInput struct {
	Title      string
	CategoryID uint
	OwnerID    uint
	FileName   string
	MimeType   string
}

type DocumentFilter struct {
	OwnerID    uint
	CategoryID uint
}

func canReadDocument(actor *models.User, d *models.Document) bool {
	return actor.IsHR() || d.OwnerID == actor.ID || d.UploadedByID == actor.ID
}

// Upload stores body and records it for the owner. Employees may only file
// documents for themselves.
func (s *DocumentService) Upload(ctx context.Context, actor *models.User, in UploadInput, body io.Reader) (*models.Document, error) {
	v := &ValidationError{}
	fileName := filepath.Base(strings.TrimSpace(in.FileName))
	if fileName == "" || fileName == "." || fileName == string(filepath.Separator) {
		v.Add("file", "is required")
	}
	title := cleanText(in.Title)
	if title == "" {
		title = strings.TrimSuffix(fileName, filepath.Ext(fileName))
	}
	if title == "" {
		v.Add("title", "is required")
	}
	if v.HasErrors() {
		return nil, v
	}

	ownerID := in.OwnerID
	if ownerID == 0 {
		ownerID = actor.ID
	}
	if ownerID != actor.ID && !actor.IsHR() {
		return nil, errors.Wrap(ErrForbidden, "cannot upload for another employee")
	}
	db := s.db.WithContext(ctx)
	if ok, err := exists(db, &models.User{}, "id = ?", ownerID); err != nil {
		return nil, err
	} else if !ok {
		return nil, invalid("owner_id", "employee does not exist")
	}
	var categoryID *uint
	if in.CategoryID != 0 {
		if ok, err := exists(db, &models.DocumentCategory{}, "id = ?", in.CategoryID); err != nil {
			return nil, err
		} else if !ok {
			return nil, invalid("category_id", "category does not exist")
		}
		categoryID = &in.CategoryID
	}

	mimeType := in.MimeType
	if mimeType == "" || mimeType == "application/octet-stream" {
		if guessed := mime.TypeByExtension(filepath.Ext(fileName)); guessed != "" {
			mimeType = guessed
		}
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	key, size, err := s.store.Save(io.LimitReader(body, s.maxBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "store document")
	}
	if size > s.maxBytes {
		s.discard(key)
		return nil, errors.Wrapf(ErrTooLarge, "limit is %d bytes", s.maxBytes)
	}

	doc := &models.Document{
		Title:        title,
		FileName:     fileName,
		StorageKey:   key,
		MimeType:     mimeType,
		Size:         size,
		CategoryID:   categoryID,
		OwnerID:      ownerID,
		UploadedByID: actor.ID,
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return errors.Wrap(err, "create document")
		}
		if ownerID == actor.ID {
			return nil
		}
		return NotifyTx(tx, []uint{ownerID}, Notice{
			Type:    models.NotificationDocument,
			Title:   "New document",
			Message: fmt.Sprintf("%s added \"%s\" to your documents.", actor.FullName(), title),
			Link:    fmt.Sprintf("/documents/%d", doc.ID),
		})
	})
	if err != nil {
		s.discard(key)
		return nil, err
	}

	s.log.Info("document uploaded",
		zap.Uint("document_id", doc.ID),
		zap.Uint("owner_id", ownerID),
		zap.Uint("by", actor.ID),
		zap.Int64("size", size))
	return s.get(ctx, doc.ID)
}

func (s *DocumentService) List(ctx context.Context, actor *models.User, f DocumentFilter) ([]models.Document, error) {
	query := s.db.WithContext(ctx).Preload("Category").Preload("Owner").Preload("UploadedBy")
	if !actor.IsHR() {
		query = query.Where("owner_id = ?", actor.ID)
	} else if f.OwnerID != 0 {
		query = query.Where("owner_id = ?", f.OwnerID)
	}
	if f.CategoryID != 0 {
		query = query.Where("category_id = ?", f.CategoryID)
	}
	var out []models.Document
	if err := query.Order("created_at desc, id desc").Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "list documents")
	}
	return out, nil
}

func (s *DocumentService) Get(ctx context.Context, actor *models.User, id uint) (*models.Document, error) {
	doc, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canReadDocument(actor, doc) {
		return nil, errors.Wrap(ErrNotFound, "load document")
	}
	return doc, nil
}

// Open returns the document record and its body. The caller closes the body.
func (s *DocumentService) Open(ctx context.Context, actor *models.User, id uint) (*models.Document, io.ReadCloser, error) {
	doc, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, nil, err
	}
	body, err := s.store.Open(doc.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, errors.Wrap(ErrNotFound, "document body is missing")
		}
		return nil, nil, err
	}
	return doc, body, nil
}

func (s *DocumentService) Delete(ctx context.Context, actor *models.User, id uint) error {
	doc, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if !actor.IsHR() && doc.UploadedByID != actor.ID {
		if doc.OwnerID == actor.ID {
			return errors.Wrap(ErrForbidden, "only the uploader or HR may delete this document")
		}
		return errors.Wrap(ErrNotFound, "load document")
	}
	if err := s.db.WithContext(ctx).Delete(&models.Document{}, doc.ID).Error; err != nil {
		return errors.Wrap(err, "delete document")
	}
	s.discard(doc.StorageKey)
	return nil
}

func (s *DocumentService) get(ctx context.Context, id uint) (*models.Document, error) {
	var doc models.Document
	err := s.db.WithContext(ctx).Preload("Category").Preload("Owner").Preload("UploadedBy").First(&doc, id).Error
	if err != nil {
		return nil, notFound(err, "load document")
	}
	return &doc, nil
}

func (s *DocumentService) discard(key string) {
	if err := s.store.Delete(key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.log.Warn("failed to remove blob", zap.String("key", key), zap.Error(err))
	}
}
