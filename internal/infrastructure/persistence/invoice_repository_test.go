package persistence

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/imagebot/backend/internal/domain/payment"
	"github.com/imagebot/backend/internal/domain/shared"
	"github.com/imagebot/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupInvoiceTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.InvoiceModel{})
	require.NoError(t, err)

	return db
}

func newTestInvoice(id, assetKey string, createdAt time.Time) *payment.Invoice {
	return &payment.Invoice{
		ID:              id,
		IdempotencyKey:  "idem-" + id,
		UserID:          42,
		ChatID:          4242,
		AssetKey:        assetKey,
		Amount:          decimal.NewFromInt(490),
		Currency:        "RUB",
		Status:          payment.StatusPending,
		ConfirmationURL: "https://pay.example/" + id,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}

// newMockInvoiceRepository creates a GormInvoiceRepository with a mocked SQL connection
func newMockInvoiceRepository(t *testing.T) (*GormInvoiceRepository, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return NewGormInvoiceRepository(gormDB), mock, mockDB
}

func TestGormInvoiceRepository_SaveAndFind(t *testing.T) {
	db := setupInvoiceTestDB(t)
	repo := NewGormInvoiceRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("saves and finds invoice", func(t *testing.T) {
		inv := newTestInvoice("pay-1", "asset-1", now)
		require.NoError(t, repo.Save(ctx, inv))

		found, err := repo.FindByID(ctx, "pay-1")
		require.NoError(t, err)
		assert.Equal(t, "idem-pay-1", found.IdempotencyKey)
		assert.Equal(t, "asset-1", found.AssetKey)
		assert.True(t, decimal.NewFromInt(490).Equal(found.Amount))
		assert.Equal(t, payment.StatusPending, found.Status)
		assert.Equal(t, payment.ResolutionNone, found.Resolution)
		assert.Nil(t, found.ResolvedAt)
	})

	t.Run("saving the same id twice keeps the first", func(t *testing.T) {
		inv := newTestInvoice("pay-2", "asset-2", now)
		require.NoError(t, repo.Save(ctx, inv))

		dup := newTestInvoice("pay-2", "asset-other", now)
		dup.IdempotencyKey = "idem-other"
		require.NoError(t, repo.Save(ctx, dup))

		found, err := repo.FindByID(ctx, "pay-2")
		require.NoError(t, err)
		assert.Equal(t, "asset-2", found.AssetKey)
	})

	t.Run("missing invoice returns not found", func(t *testing.T) {
		_, err := repo.FindByID(ctx, "missing")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestGormInvoiceRepository_UpdateStatus(t *testing.T) {
	db := setupInvoiceTestDB(t)
	repo := NewGormInvoiceRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Save(ctx, newTestInvoice("pay-1", "asset-1", now)))

	t.Run("updates status", func(t *testing.T) {
		require.NoError(t, repo.UpdateStatus(ctx, "pay-1", payment.StatusSucceeded))

		found, err := repo.FindByID(ctx, "pay-1")
		require.NoError(t, err)
		assert.Equal(t, payment.StatusSucceeded, found.Status)
	})

	t.Run("unknown invoice", func(t *testing.T) {
		err := repo.UpdateStatus(ctx, "missing", payment.StatusSucceeded)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("invalid status", func(t *testing.T) {
		err := repo.UpdateStatus(ctx, "pay-1", payment.Status("bogus"))
		var domainErr *shared.DomainError
		require.True(t, errors.As(err, &domainErr))
		assert.Equal(t, "INVALID_STATUS", domainErr.Code)
	})
}

func TestGormInvoiceRepository_Resolve(t *testing.T) {
	db := setupInvoiceTestDB(t)
	repo := NewGormInvoiceRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Save(ctx, newTestInvoice("pay-1", "asset-1", now)))

	resolvedAt := now.Add(2 * time.Minute)
	require.NoError(t, repo.Resolve(ctx, "pay-1", payment.ResolutionDelivered, resolvedAt))

	found, err := repo.FindByID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, payment.ResolutionDelivered, found.Resolution)
	require.NotNil(t, found.ResolvedAt)
	assert.True(t, resolvedAt.Equal(*found.ResolvedAt))

	t.Run("resolved invoice is left untouched", func(t *testing.T) {
		require.NoError(t, repo.Resolve(ctx, "pay-1", payment.ResolutionExpired, now.Add(time.Hour)))

		found, err := repo.FindByID(ctx, "pay-1")
		require.NoError(t, err)
		assert.Equal(t, payment.ResolutionDelivered, found.Resolution)
	})

	t.Run("unknown invoice is ignored", func(t *testing.T) {
		assert.NoError(t, repo.Resolve(ctx, "missing", payment.ResolutionExpired, now))
	})

	t.Run("empty resolution is rejected", func(t *testing.T) {
		err := repo.Resolve(ctx, "pay-1", payment.ResolutionNone, now)
		assert.Error(t, err)
	})
}

func TestGormInvoiceRepository_FindUnresolved(t *testing.T) {
	db := setupInvoiceTestDB(t)
	repo := NewGormInvoiceRepository(db)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Save(ctx, newTestInvoice("pay-3", "asset-3", base.Add(3*time.Minute))))
	require.NoError(t, repo.Save(ctx, newTestInvoice("pay-1", "asset-1", base.Add(1*time.Minute))))
	require.NoError(t, repo.Save(ctx, newTestInvoice("pay-2", "asset-2", base.Add(2*time.Minute))))
	require.NoError(t, repo.Resolve(ctx, "pay-2", payment.ResolutionSuperseded, base))

	invoices, err := repo.FindUnresolved(ctx, 10)
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, "pay-1", invoices[0].ID)
	assert.Equal(t, "pay-3", invoices[1].ID)

	limited, err := repo.FindUnresolved(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "pay-1", limited[0].ID)
}

func TestGormInvoiceRepository_DatabaseErrors(t *testing.T) {
	ctx := context.Background()
	dbErr := errors.New("connection reset")

	t.Run("FindByID propagates query errors", func(t *testing.T) {
		repo, mock, mockDB := newMockInvoiceRepository(t)
		defer mockDB.Close()

		mock.ExpectQuery(`SELECT \* FROM "invoices" WHERE id = \$1`).
			WillReturnError(dbErr)

		_, err := repo.FindByID(ctx, "pay-1")
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Save propagates insert errors", func(t *testing.T) {
		repo, mock, mockDB := newMockInvoiceRepository(t)
		defer mockDB.Close()

		mock.ExpectExec(`INSERT INTO "invoices"`).
			WillReturnError(dbErr)

		err := repo.Save(ctx, newTestInvoice("pay-1", "asset-1", time.Now()))
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UpdateStatus propagates update errors", func(t *testing.T) {
		repo, mock, mockDB := newMockInvoiceRepository(t)
		defer mockDB.Close()

		mock.ExpectExec(`UPDATE "invoices" SET`).
			WillReturnError(dbErr)

		err := repo.UpdateStatus(ctx, "pay-1", payment.StatusSucceeded)
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("FindUnresolved propagates query errors", func(t *testing.T) {
		repo, mock, mockDB := newMockInvoiceRepository(t)
		defer mockDB.Close()

		mock.ExpectQuery(`SELECT \* FROM "invoices" WHERE resolution = \$1 ORDER BY created_at ASC`).
			WillReturnError(dbErr)

		_, err := repo.FindUnresolved(ctx, 10)
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
