package claims

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"box-claims-api/internal/apperr"
	"box-claims-api/internal/authz"
	"box-claims-api/internal/cache"
	"box-claims-api/internal/database"
	"box-claims-api/internal/events"
	"box-claims-api/internal/features"
	"box-claims-api/internal/models"
	"box-claims-api/internal/notify"
	"box-claims-api/internal/offers"
	"box-claims-api/internal/settings"
)

var (
	staff          = authz.Caller{ID: "staff-1", Username: "admin", IsStaff: true}
	defaultSupport = models.SupportConfig{Email: "soporte@example.com", Phone: "+58 000-0000000"}
)

type testEnv struct {
	db       *database.DB
	registry *offers.Registry
	engine   *Engine
	settings *settings.Service
	features *features.Manager
}

func setupEngine(t *testing.T) *testEnv {
	t.Helper()
	return setupEngineWithStore(t, nil)
}

// setupEngineWithStore builds the engine on a temp database. wrap, when set,
// replaces the claim store seen by the engine.
func setupEngineWithStore(t *testing.T, wrap func(Store) Store) *testEnv {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "claims.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	fm := features.NewManager()
	fm.RegisterDefaults(true, true, false)
	em := events.NewManager(true)
	t.Cleanup(em.Shutdown)

	c := cache.NewInMemoryCache()
	notifier := notify.NewService(db)
	registry := offers.NewRegistry(db, notifier, nil, c, fm, em)
	cfg := settings.NewService(db, c, fm, defaultSupport)

	var store Store = db
	if wrap != nil {
		store = wrap(db)
	}

	return &testEnv{
		db:       db,
		registry: registry,
		engine:   NewEngine(store, registry, notifier, cfg, fm, em),
		settings: cfg,
		features: fm,
	}
}

func (env *testEnv) createOffer(t *testing.T, price string, stock int, paymentsEnabled bool) *models.Offer {
	t.Helper()
	offer, err := env.registry.CreateOffer(context.Background(), staff, decimal.RequireFromString(price), stock, paymentsEnabled)
	require.NoError(t, err)
	return offer
}

func (env *testEnv) stock(t *testing.T) int {
	t.Helper()
	offer, err := env.registry.GetActiveOffer(context.Background())
	require.NoError(t, err)
	return offer.Stock
}

func user(id string) authz.Caller {
	return authz.Caller{ID: id, Username: id}
}

func input() models.ClaimInput {
	return models.ClaimInput{
		PaymentMethod: models.PaymentMobile,
		Amount:        decimal.RequireFromString("20.00"),
		Currency:      models.CurrencyBs,
		Reference:     "000123",
		BankName:      "Banco",
		SenderPhone:   "04141234567",
	}
}

func TestSubmitClaim_Success(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	offer := env.createOffer(t, "20.00", 2, true)

	claim, err := env.engine.SubmitClaim(ctx, user("a"), input())
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, claim.Status)
	assert.False(t, claim.Delivered)
	assert.Equal(t, "a", claim.UserID)
	assert.Equal(t, offer.ID, claim.OfferID)
	assert.Equal(t, 1, env.stock(t))

	stored, err := env.db.GetClaim(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, "000123", stored.Reference)
}

func TestSubmitClaim_GateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("no offer dominates", func(t *testing.T) {
		env := setupEngine(t)
		_, err := env.engine.SubmitClaim(ctx, user("a"), input())
		assert.True(t, errors.Is(err, apperr.ErrNoActiveOffer), "got %v", err)
	})

	t.Run("duplicate before payments disabled", func(t *testing.T) {
		env := setupEngine(t)
		offer := env.createOffer(t, "20.00", 5, true)
		_, err := env.engine.SubmitClaim(ctx, user("a"), input())
		require.NoError(t, err)

		disabled := false
		_, err = env.registry.UpdateOffer(ctx, staff, offer.ID, models.OfferUpdate{PaymentsEnabled: &disabled})
		require.NoError(t, err)

		_, err = env.engine.SubmitClaim(ctx, user("a"), input())
		assert.True(t, errors.Is(err, apperr.ErrDuplicateClaim), "got %v", err)
	})

	t.Run("payments disabled before out of stock", func(t *testing.T) {
		env := setupEngine(t)
		env.createOffer(t, "20.00", 0, false)
		_, err := env.engine.SubmitClaim(ctx, user("a"), input())
		assert.True(t, errors.Is(err, apperr.ErrPaymentsDisabled), "got %v", err)
	})

	t.Run("out of stock", func(t *testing.T) {
		env := setupEngine(t)
		env.createOffer(t, "20.00", 0, true)
		_, err := env.engine.SubmitClaim(ctx, user("a"), input())
		assert.True(t, errors.Is(err, apperr.ErrOutOfStock), "got %v", err)
	})
}

func TestSubmitClaim_InvalidInput(t *testing.T) {
	env := setupEngine(t)
	env.createOffer(t, "20.00", 2, true)

	in := input()
	in.PaymentMethod = "BARTER"
	_, err := env.engine.SubmitClaim(context.Background(), user("a"), in)
	assert.Error(t, err)
	assert.Equal(t, 2, env.stock(t))
}

func TestSubmitClaim_AnonymousCaller(t *testing.T) {
	env := setupEngine(t)
	env.createOffer(t, "20.00", 2, true)

	_, err := env.engine.SubmitClaim(context.Background(), authz.Caller{}, input())
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))
}

func TestScenario_LastBox(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	env.createOffer(t, "20.00", 1, true)

	_, err := env.engine.SubmitClaim(ctx, user("a"), input())
	require.NoError(t, err)
	assert.Equal(t, 0, env.stock(t))

	_, err = env.engine.SubmitClaim(ctx, user("b"), input())
	assert.True(t, errors.Is(err, apperr.ErrOutOfStock), "got %v", err)
	assert.Equal(t, 0, env.stock(t))
}

func TestScenario_DuplicateThenRejectThenResubmit(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	env.createOffer(t, "20.00", 5, true)

	first, err := env.engine.SubmitClaim(ctx, user("a"), input())
	require.NoError(t, err)

	_, err = env.engine.SubmitClaim(ctx, user("a"), input())
	assert.True(t, errors.Is(err, apperr.ErrDuplicateClaim), "got %v", err)

	_, err = env.engine.Reject(ctx, staff, first.ID)
	require.NoError(t, err)

	second, err := env.engine.SubmitClaim(ctx, user("a"), input())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestScenario_RejectUsesDefaultSupportContact(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	env.createOffer(t, "20.00", 5, true)

	claim, err := env.engine.SubmitClaim(ctx, user("a"), input())
	require.NoError(t, err)

	rejected, err := env.engine.Reject(ctx, staff, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Status)

	list, err := env.db.ListNotifications(ctx, "a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Contains(t, list[0].Message, defaultSupport.Email)
	assert.Contains(t, list[0].Message, defaultSupport.Phone)
}

func TestRejectUsesConfiguredSupportContact(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	env.createOffer(t, "20.00", 5, true)

	require.NoError(t, env.settings.SaveSupport(ctx, staff, models.SupportConfig{Email: "help@shop.example", Phone: "0212"}))

	claim, err := env.engine.SubmitClaim(ctx, user("a"), input())
	require.NoError(t, err)
	_, err = env.engine.Reject(ctx, staff, claim.ID)
	require.NoError(t, err)

	list, err := env.db.ListNotifications(ctx, "a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Contains(t, list[0].Message, "help@shop.example")
}

func TestConcurrentSubmissionsNeverOversell(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	const stock, users = 5, 25
	env.createOffer(t, "20.00", stock, true)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		outOfStock int
	)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.engine.SubmitClaim(ctx, user(fmt.Sprintf("user-%d", i)), input())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperr.ErrOutOfStock):
				outOfStock++
			default:
				t.Errorf("Unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, stock, successes)
	assert.Equal(t, users-stock, outOfStock)
	assert.Equal(t, 0, env.stock(t))

	claims, err := env.db.ListClaims(ctx, "")
	require.NoError(t, err)
	assert.Len(t, claims, stock)
}

func TestConcurrentSubmissionsOneLiveClaimPerUser(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	const stock, attempts = 20, 10
	env.createOffer(t, "20.00", stock, true)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		duplicates int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.SubmitClaim(ctx, user("a"), input())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperr.ErrDuplicateClaim):
				duplicates++
			default:
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, duplicates)
	assert.Equal(t, stock-1, env.stock(t))

	claims, err := env.db.ListClaims(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, claims, 1)
}

// failingInsertStore fails every claim insert with err.
type failingInsertStore struct {
	Store
	err error
}

func (s failingInsertStore) InsertClaim(ctx context.Context, claim models.Claim) error {
	return s.err
}

func TestSubmitClaim_CompensatesFailedInsert(t *testing.T) {
	env := setupEngineWithStore(t, func(s Store) Store {
		return failingInsertStore{Store: s, err: errors.New("disk I/O error")}
	})
	env.createOffer(t, "20.00", 3, true)

	_, err := env.engine.SubmitClaim(context.Background(), user("a"), input())
	require.Error(t, err)
	assert.Nil(t, apperr.Kind(err), "a storage fault must not look like a gate refusal")
	assert.Equal(t, 3, env.stock(t))
}

func TestSubmitClaim_BackstopDuplicateRestoresStock(t *testing.T) {
	env := setupEngineWithStore(t, func(s Store) Store {
		return failingInsertStore{Store: s, err: fmt.Errorf("claim: %w", apperr.ErrDuplicateClaim)}
	})
	env.createOffer(t, "20.00", 3, true)

	_, err := env.engine.SubmitClaim(context.Background(), user("a"), input())
	assert.True(t, errors.Is(err, apperr.ErrDuplicateClaim), "got %v", err)
	assert.Equal(t, 3, env.stock(t))
}

func TestAdminCreateClaim(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	env.createOffer(t, "20.00", 2, false)

	claim, err := env.engine.AdminCreateClaim(ctx, staff, "walk-in", models.PaymentCash)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, claim.Status)
	assert.True(t, claim.Amount.Equal(decimal.RequireFromString("20.00")))
	assert.Equal(t, 1, env.stock(t))

	list, err := env.db.ListNotifications(ctx, "walk-in")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = env.engine.AdminCreateClaim(ctx, staff, "walk-in", models.PaymentCash)
	assert.True(t, errors.Is(err, apperr.ErrDuplicateClaim), "got %v", err)

	_, err = env.engine.AdminCreateClaim(ctx, user("a"), "walk-in-2", models.PaymentCash)
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))
}

func TestAdminCreateClaim_OutOfStock(t *testing.T) {
	env := setupEngine(t)
	env.createOffer(t, "20.00", 0, true)

	_, err := env.engine.AdminCreateClaim(context.Background(), staff, "walk-in", models.PaymentCash)
	assert.True(t, errors.Is(err, apperr.ErrOutOfStock), "got %v", err)
}

func TestApprove_IsIdempotent(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	env.createOffer(t, "20.00", 5, true)

	claim, err := env.engine.SubmitClaim(ctx, user("a"), input())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		approved, err := env.engine.Approve(ctx, staff, claim.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusApproved, approved.Status)
	}

	list, err := env.db.ListNotifications(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestApprove_LegacyTransitionsRefire(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	env.createOffer(t, "20.00", 5, true)
	env.features.Set(features.FeatureLegacyTransitions, true)

	claim, err := env.engine.SubmitClaim(ctx, user("a"), input())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := env.engine.Approve(ctx, staff, claim.ID)
		require.NoError(t, err)
	}

	list, err := env.db.ListNotifications(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestTransitions_Invalid(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	env.createOffer(t, "20.00", 5, true)

	claim, err := env.engine.SubmitClaim(ctx, user("a"), input())
	require.NoError(t, err)
	_, err = env.engine.Reject(ctx, staff, claim.ID)
	require.NoError(t, err)

	_, err = env.engine.Approve(ctx, staff, claim.ID)
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition), "got %v", err)

	_, err = env.engine.Approve(ctx, staff, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "got %v", err)

	_, err = env.engine.Approve(ctx, user("a"), claim.ID)
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized), "got %v", err)
}

func TestConfirmDelivery_RequiresApproval(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	env.createOffer(t, "20.00", 5, true)

	claim, err := env.engine.SubmitClaim(ctx, user("a"), input())
	require.NoError(t, err)

	_, err = env.engine.ConfirmDelivery(ctx, staff, claim.ID)
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition), "got %v", err)

	_, err = env.engine.Approve(ctx, staff, claim.ID)
	require.NoError(t, err)

	delivered, err := env.engine.ConfirmDelivery(ctx, staff, claim.ID)
	require.NoError(t, err)
	assert.True(t, delivered.Delivered)

	again, err := env.engine.ConfirmDelivery(ctx, staff, claim.ID)
	require.NoError(t, err)
	assert.True(t, again.Delivered)

	// approve + deliver, the repeat delivery adds nothing
	list, err := env.db.ListNotifications(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	offer, err := env.registry.GetActiveOffer(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, offer.Sold)
	assert.Equal(t, 1, offer.DeliveredCount)
}

func TestConfirmDelivery_LegacySkipsApproval(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	env.createOffer(t, "20.00", 5, true)
	env.features.Set(features.FeatureLegacyTransitions, true)

	claim, err := env.engine.SubmitClaim(ctx, user("a"), input())
	require.NoError(t, err)

	delivered, err := env.engine.ConfirmDelivery(ctx, staff, claim.ID)
	require.NoError(t, err)
	assert.True(t, delivered.Delivered)
	assert.Equal(t, models.StatusPending, delivered.Status)
}

func TestGetAndListClaims_Scoping(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	env.createOffer(t, "20.00", 5, true)

	mine, err := env.engine.SubmitClaim(ctx, user("a"), input())
	require.NoError(t, err)
	theirs, err := env.engine.SubmitClaim(ctx, user("b"), input())
	require.NoError(t, err)

	got, err := env.engine.GetClaim(ctx, user("a"), mine.ID)
	require.NoError(t, err)
	assert.Equal(t, mine.ID, got.ID)

	_, err = env.engine.GetClaim(ctx, user("a"), theirs.ID)
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized), "got %v", err)

	_, err = env.engine.GetClaim(ctx, staff, theirs.ID)
	require.NoError(t, err)

	own, err := env.engine.ListClaims(ctx, user("a"))
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, mine.ID, own[0].ID)

	all, err := env.engine.ListClaims(ctx, staff)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, theirs.ID, all[0].ID)
}
