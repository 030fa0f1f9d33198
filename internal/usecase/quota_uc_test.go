//go:build !integration

package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-bot-manager/internal/domain"
	"telegram-bot-manager/internal/domain/model"
	"telegram-bot-manager/internal/domain/ports/repository"
	"telegram-bot-manager/internal/usecase"
)

func TestQuota(t *testing.T) {
	ctx := context.Background()

	t.Run("should walk unseen trialing exhausted authorized", func(t *testing.T) {
		users := NewMemBotUserRepo()
		q := usecase.NewQuotaUseCase(users, newLocker(), 3, newTestLogger())

		rec, err := q.Check(ctx, repository.NoTX, "b1", "42")
		require.NoError(t, err)
		assert.Nil(t, rec)
		assert.Equal(t, model.QuotaUnseen, rec.State(q.Limit()))

		for i := 1; i <= 3; i++ {
			n, err := q.Record(ctx, repository.NoTX, "b1", "42", "alice")
			require.NoError(t, err)
			assert.Equal(t, i, n)
		}
		rec, _ = q.Check(ctx, repository.NoTX, "b1", "42")
		assert.Equal(t, model.QuotaTrialExhausted, rec.State(q.Limit()))
		assert.False(t, rec.Allows(q.Limit()))

		require.NoError(t, q.Authorize(ctx, "b1", "42", true))
		rec, _ = q.Check(ctx, repository.NoTX, "b1", "42")
		assert.Equal(t, model.QuotaAuthorized, rec.State(q.Limit()))
		assert.True(t, rec.Allows(q.Limit()))
		assert.Equal(t, 3, rec.Count())
	})

	t.Run("should default the limit to twenty", func(t *testing.T) {
		q := usecase.NewQuotaUseCase(NewMemBotUserRepo(), newLocker(), 0, newTestLogger())
		assert.Equal(t, model.DefaultTrialLimit, q.Limit())
	})

	t.Run("should surface store errors from check", func(t *testing.T) {
		users := NewMemBotUserRepo()
		users.FindErr = domain.ErrStoreUnavailable
		q := usecase.NewQuotaUseCase(users, newLocker(), 20, newTestLogger())

		_, err := q.Check(ctx, repository.NoTX, "b1", "42")

		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	})

	t.Run("should validate authorize arguments", func(t *testing.T) {
		q := usecase.NewQuotaUseCase(NewMemBotUserRepo(), newLocker(), 20, newTestLogger())
		assert.ErrorIs(t, q.Authorize(ctx, "", "42", true), domain.ErrInvalidArgument)
	})
}
