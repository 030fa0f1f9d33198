package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex(t *testing.T) {
	t.Run("should serialize holders of the same key", func(t *testing.T) {
		km := NewKeyedMutex()
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			inside  int
			maxSeen int
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := km.Lock(context.Background(), "bot-1:42")
				if !assert.NoError(t, err) {
					return
				}
				defer unlock()

				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, maxSeen)
		assert.Equal(t, 0, km.Len())
	})

	t.Run("should not block different keys", func(t *testing.T) {
		km := NewKeyedMutex()
		unlockA, err := km.Lock(context.Background(), "a")
		require.NoError(t, err)
		defer unlockA()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		unlockB, err := km.Lock(ctx, "b")
		require.NoError(t, err)
		unlockB()
	})

	t.Run("should give up when the context ends", func(t *testing.T) {
		km := NewKeyedMutex()
		unlock, err := km.Lock(context.Background(), "k")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = km.Lock(ctx, "k")
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		unlock()
		unlock() // second call is a no-op
		assert.Equal(t, 0, km.Len())
	})
}
