package services

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"hrms/models"
	"hrms/storage"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentCategories(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := NewDocumentCategoryService(db, nil)

	contracts, err := svc.Create(ctx, CategoryInput{Name: ptr("Contracts")})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CategoryInput{Name: ptr("contracts")})
	assert.True(t, errors.Is(err, ErrConflict))

	owner := createUser(t, db, models.RoleEmployee)
	require.NoError(t, db.Create(&models.Document{
		Title: "Contract", FileName: "c.pdf", StorageKey: "k1", OwnerID: owner.ID, UploadedByID: owner.ID, CategoryID: &contracts.ID,
	}).Error)
	assert.True(t, errors.Is(svc.Delete(ctx, contracts.ID), ErrConflict))

	renamed, err := svc.Update(ctx, contracts.ID, CategoryInput{Description: ptr("signed contracts")})
	require.NoError(t, err)
	assert.Equal(t, "Contracts", renamed.Name)
	assert.Equal(t, "signed contracts", renamed.Description)
}

func TestDocumentUploadAndAccess(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	svc := NewDocumentService(db, store, 16, nil)

	hr := createUser(t, db, models.RoleHR)
	alice := createUser(t, db, models.RoleEmployee)
	bob := createUser(t, db, models.RoleEmployee)

	doc, err := svc.Upload(ctx, hr, UploadInput{FileName: "payslip.pdf", OwnerID: alice.ID}, strings.NewReader("march payslip"))
	require.NoError(t, err)
	assert.Equal(t, "payslip", doc.Title)
	assert.Equal(t, "application/pdf", doc.MimeType)
	assert.EqualValues(t, 13, doc.Size)

	notes := notificationsFor(t, db, alice.ID)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationDocument, notes[0].Type)

	_, err = svc.Upload(ctx, bob, UploadInput{FileName: "x.txt", OwnerID: alice.ID}, strings.NewReader("x"))
	assert.True(t, errors.Is(err, ErrForbidden), "employees upload for themselves only")

	_, err = svc.Upload(ctx, bob, UploadInput{FileName: "big.bin"}, bytes.NewReader(make([]byte, 17)))
	assert.True(t, errors.Is(err, ErrTooLarge))

	own, err := svc.Upload(ctx, bob, UploadInput{Title: "ID card", FileName: "id.png"}, strings.NewReader("png"))
	require.NoError(t, err)
	assert.Empty(t, notificationsFor(t, db, bob.ID), "no notice for your own upload")

	listed, err := svc.List(ctx, alice, DocumentFilter{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, doc.ID, listed[0].ID)

	all, err := svc.List(ctx, hr, DocumentFilter{OwnerID: bob.ID})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, own.ID, all[0].ID)

	_, _, err = svc.Open(ctx, bob, doc.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, body, err := svc.Open(ctx, alice, doc.ID)
	require.NoError(t, err)
	content, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, "march payslip", string(content))

	assert.True(t, errors.Is(svc.Delete(ctx, alice, doc.ID), ErrForbidden), "owners cannot delete HR uploads")
	require.NoError(t, svc.Delete(ctx, hr, doc.ID))
	_, err = svc.Get(ctx, hr, doc.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, svc.Delete(ctx, bob, own.ID))
}
