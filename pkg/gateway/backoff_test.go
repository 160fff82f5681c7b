package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	t.Run("Задержка растёт экспоненциально до потолка", func(t *testing.T) {
		b := newBackoff(BackoffConfig{
			Initial:    100 * time.Millisecond,
			Max:        400 * time.Millisecond,
			Factor:     2.0,
			MaxRetries: 10,
		})

		expected := []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			400 * time.Millisecond, // потолок
		}
		for i, want := range expected {
			delay, ok := b.Next()
			require.True(t, ok, "попытка %d", i)
			assert.Equal(t, want, delay, "попытка %d", i)
		}
	})

	t.Run("Попытки исчерпываются", func(t *testing.T) {
		b := newBackoff(BackoffConfig{
			Initial:    time.Millisecond,
			Max:        time.Millisecond,
			Factor:     2.0,
			MaxRetries: 3,
		})

		for i := 0; i < 3; i++ {
			_, ok := b.Next()
			require.True(t, ok)
		}
		_, ok := b.Next()
		assert.False(t, ok, "четвёртая попытка должна быть отклонена")
		assert.Equal(t, 3, b.Attempt())
	})

	t.Run("Reset возвращает к началу", func(t *testing.T) {
		b := newBackoff(BackoffConfig{
			Initial:    100 * time.Millisecond,
			Max:        time.Second,
			Factor:     2.0,
			MaxRetries: 5,
		})

		b.Next()
		b.Next()
		b.Reset()

		delay, ok := b.Next()
		require.True(t, ok)
		assert.Equal(t, 100*time.Millisecond, delay)
	})

	t.Run("Jitter остаётся в границах", func(t *testing.T) {
		b := newBackoff(BackoffConfig{
			Initial:    100 * time.Millisecond,
			Max:        time.Second,
			Factor:     2.0,
			Jitter:     0.3,
			MaxRetries: 100,
		})

		for i := 0; i < 20; i++ {
			b.Reset()
			delay, ok := b.Next()
			require.True(t, ok)
			assert.GreaterOrEqual(t, delay, 70*time.Millisecond)
			assert.LessOrEqual(t, delay, 130*time.Millisecond)
		}
	})
}
