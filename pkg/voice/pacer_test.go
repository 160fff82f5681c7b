package voice

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// paceRecorder собирает хронологию действий цикла отправки
type paceRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *paceRecorder) add(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *paceRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// waitFor ждёт, пока хронология не удовлетворит условие
func (r *paceRecorder) waitFor(t *testing.T, timeout time.Duration, cond func([]string) bool) []string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		events := r.snapshot()
		if cond(events) {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("условие не выполнено, хронология: %v", r.snapshot())
	return nil
}

func newTestPacer(rec *paceRecorder, silenceTail int) (*pacer, *playbackQueue) {
	queue := newPlaybackQueue(8)
	p := newPacer(queue,
		func(frame []byte) error {
			if bytes.Equal(frame, silenceFrame) {
				rec.add("silence")
			} else {
				rec.add("frame")
			}
			return nil
		},
		func(speaking bool) error {
			if speaking {
				rec.add("speak:on")
			} else {
				rec.add("speak:off")
			}
			return nil
		},
		silenceTail, 4)
	p.frameDur = 2 * time.Millisecond // быстрый темп для тестов
	return p, queue
}

// countedSource отдаёт n кадров и завершается
func countedSource(n int) AudioSource {
	remaining := n
	return FrameFunc(func(ctx context.Context) ([]byte, error) {
		if remaining == 0 {
			return nil, io.EOF
		}
		remaining--
		return []byte{0xAA, 0xBB}, nil
	})
}

func TestPacer(t *testing.T) {
	t.Run("Полный цикл трека с хвостом тишины", func(t *testing.T) {
		rec := &paceRecorder{}
		p, queue := newTestPacer(rec, 2)

		_, err := queue.Enqueue(countedSource(3), "тест")
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan struct{})
		go func() { p.run(ctx); close(done) }()

		events := rec.waitFor(t, 2*time.Second, func(events []string) bool {
			return len(events) > 0 && events[len(events)-1] == "speak:off"
		})
		cancel()
		<-done

		require.Equal(t, "speak:on", events[0], "индикация речи до первого кадра")

		var frames, silence int
		for _, ev := range events {
			switch ev {
			case "frame":
				frames++
			case "silence":
				silence++
			}
		}
		assert.Equal(t, 3, frames, "все кадры источника отправлены")
		assert.Equal(t, 2, silence, "хвост тишины после окончания источника")
		assert.Equal(t, "speak:off", events[len(events)-1], "молчание сигнализируется после хвоста")
	})

	t.Run("Медленный источник замещается тишиной", func(t *testing.T) {
		rec := &paceRecorder{}
		p, queue := newTestPacer(rec, 1)

		first := true
		slow := FrameFunc(func(ctx context.Context) ([]byte, error) {
			if first {
				first = false
				return []byte{0x01}, nil
			}
			// Источник отстаёт на много кадров
			time.Sleep(30 * time.Millisecond)
			return nil, io.EOF
		})
		_, err := queue.Enqueue(slow, "медленный")
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan struct{})
		go func() { p.run(ctx); close(done) }()

		events := rec.waitFor(t, 2*time.Second, func(events []string) bool {
			return len(events) > 0 && events[len(events)-1] == "speak:off"
		})
		cancel()
		<-done

		var silence int
		for _, ev := range events {
			if ev == "silence" {
				silence++
			}
		}
		assert.GreaterOrEqual(t, silence, 3,
			"пока источник отстаёт, темп держат кадры тишины: %v", events)
	})

	t.Run("Skip прерывает текущий трек", func(t *testing.T) {
		rec := &paceRecorder{}
		p, queue := newTestPacer(rec, 1)

		endless := FrameFunc(func(ctx context.Context) ([]byte, error) {
			time.Sleep(time.Millisecond)
			return []byte{0x02}, nil
		})
		_, err := queue.Enqueue(endless, "бесконечный")
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan struct{})
		go func() { p.run(ctx); close(done) }()

		rec.waitFor(t, 2*time.Second, func(events []string) bool {
			count := 0
			for _, ev := range events {
				if ev == "frame" {
					count++
				}
			}
			return count >= 3
		})

		p.skipCurrent()

		rec.waitFor(t, 2*time.Second, func(events []string) bool {
			return len(events) > 0 && events[len(events)-1] == "speak:off"
		})
		cancel()
		<-done
	})

	t.Run("Очередь продолжается следующим треком", func(t *testing.T) {
		rec := &paceRecorder{}
		p, queue := newTestPacer(rec, 1)

		_, err := queue.Enqueue(countedSource(1), "первый")
		require.NoError(t, err)
		_, err = queue.Enqueue(countedSource(1), "второй")
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan struct{})
		go func() { p.run(ctx); close(done) }()

		rec.waitFor(t, 2*time.Second, func(events []string) bool {
			count := 0
			for _, ev := range events {
				if ev == "frame" {
					count++
				}
			}
			return count == 2
		})
		cancel()
		<-done
	})
}
