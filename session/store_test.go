package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/stablepay/types"
)

func TestMemoryStoreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	s := &types.PaymentSession{
		ID:              "solana-payment-1",
		Status:          types.StatusPending,
		MerchantWallets: map[types.TokenType]string{types.TokenUSDC: "merchant"},
	}
	require.NoError(t, store.Create(ctx, s))

	s.Status = types.StatusCaptured
	s.MerchantWallets[types.TokenUSDC] = "changed"

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, got.Status)
	assert.Equal(t, "merchant", got.MerchantWallets[types.TokenUSDC])

	got.Status = types.StatusError
	again, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, again.Status)

	err = store.Create(ctx, again)
	assert.Equal(t, types.ErrInvalidState, types.CodeOf(err))
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStoreUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, &types.PaymentSession{ID: "a", Status: types.StatusPending}))

	out, err := store.Update(ctx, "a", func(s *types.PaymentSession) error {
		s.Status = types.StatusAuthorized
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusAuthorized, out.Status)

	boom := errors.New("boom")
	_, err = store.Update(ctx, "a", func(s *types.PaymentSession) error {
		s.Status = types.StatusCanceled
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, types.StatusAuthorized, got.Status, "failed update must not be saved")

	_, err = store.Update(ctx, "missing", func(*types.PaymentSession) error { return nil })
	assert.Equal(t, types.ErrSessionNotFound, types.CodeOf(err))
	_, err = store.Get(ctx, "missing")
	assert.Equal(t, types.ErrSessionNotFound, types.CodeOf(err))
	assert.Equal(t, types.ErrInputValidation, types.CodeOf(store.Create(ctx, &types.PaymentSession{})))
}

func TestMemoryStoreConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, &types.PaymentSession{ID: "a"}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "a", func(s *types.PaymentSession) error {
				s.AmountMinorUnits++
				return nil
			})
			assert.NoError(t, err)
			_, err = store.Get(ctx, "a")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.AmountMinorUnits)
}
