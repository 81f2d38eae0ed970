package settings

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"box-claims-api/internal/apperr"
	"box-claims-api/internal/authz"
	"box-claims-api/internal/cache"
	"box-claims-api/internal/database"
	"box-claims-api/internal/features"
	"box-claims-api/internal/models"
)

var (
	staff    = authz.Caller{ID: "staff-1", IsStaff: true}
	customer = authz.Caller{ID: "user-1"}
	fallback = models.SupportConfig{Email: "soporte@example.com", Phone: "+58 000-0000000"}
)

func setupService(t *testing.T) *Service {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	fm := features.NewManager()
	fm.RegisterDefaults(true, false, false)
	return NewService(db, cache.NewInMemoryCache(), fm, fallback)
}

func TestSupportContactFallsBackToDefault(t *testing.T) {
	svc := setupService(t)
	assert.Equal(t, fallback, svc.SupportContact(context.Background()))
}

func TestSaveSupportInvalidatesCache(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	first := models.SupportConfig{Email: "a@example.com", Phone: "1"}
	require.NoError(t, svc.SaveSupport(ctx, staff, first))
	got, err := svc.Support(ctx, customer)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	second := models.SupportConfig{Email: "b@example.com", Phone: "2"}
	require.NoError(t, svc.SaveSupport(ctx, staff, second))
	assert.Equal(t, second, svc.SupportContact(ctx))
}

func TestSaveRequiresStaff(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	err := svc.SaveSupport(ctx, customer, models.SupportConfig{Email: "x@example.com"})
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))

	err = svc.SavePayment(ctx, customer, models.PaymentConfig{Phone: "1"})
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))
}

func TestPaymentConfig(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	_, err := svc.Payment(ctx, customer)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	want := models.PaymentConfig{NationalID: "V-123", Phone: "0414", Bank: "Banco"}
	require.NoError(t, svc.SavePayment(ctx, staff, want))

	got, err := svc.Payment(ctx, customer)
	require.NoError(t, err)
	assert.Equal(t, want, *got)
}
