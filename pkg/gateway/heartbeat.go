package gateway

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Первая отправка смещается небольшим случайным jitter, чтобы развести
// нагрузку одновременно поднятых сессий. Доля интервала, не более.
const firstBeatJitterFraction = 10

// heartbeatScheduler периодически отправляет сигнал живости и следит за
// подтверждениями сервера.
//
// Инвариант мёртвого соединения: если с момента последнего подтверждения
// прошло два интервала, соединение считается потерянным и вызывается
// onDead. За дедлайном следит отдельный таймер, не привязанный к моментам
// отправки: обнаружение укладывается в два интервала независимо от jitter.
// Решение принимает сам планировщик, а не цикл приёма: зависший транспорт
// может вообще не отдавать кадров.
type heartbeatScheduler struct {
	interval time.Duration
	send     func() error
	onDead   func()

	mu       sync.Mutex
	lastSent time.Time
	lastAck  time.Time

	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newHeartbeatScheduler(interval time.Duration, send func() error, onDead func()) *heartbeatScheduler {
	return &heartbeatScheduler{
		interval: interval,
		send:     send,
		onDead:   onDead,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start запускает фоновый цикл отправки. Контекст завершает цикл так же,
// как и Stop.
func (h *heartbeatScheduler) Start(ctx context.Context) {
	h.mu.Lock()
	now := time.Now()
	h.lastAck = now
	h.lastSent = now
	h.started = true
	h.mu.Unlock()

	go h.loop(ctx)
}

func (h *heartbeatScheduler) loop(ctx context.Context) {
	defer close(h.doneCh)

	slog.Debug("gateway.heartbeat Started", "interval", h.interval)
	defer slog.Debug("gateway.heartbeat Stopped")

	first := time.Duration(rand.Float64() * float64(h.interval) / firstBeatJitterFraction)
	firstTimer := time.NewTimer(first)
	defer firstTimer.Stop()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	watchdog := time.NewTimer(2 * h.interval)
	defer watchdog.Stop()

	for {
		select {
		case <-firstTimer.C:
			if !h.beat() {
				return
			}

		case <-ticker.C:
			if !h.beat() {
				return
			}

		case <-watchdog.C:
			sinceAck := h.sinceAck()
			if sinceAck >= 2*h.interval {
				slog.Warn("gateway.heartbeat Подтверждения не приходят, соединение мёртвое",
					"since_ack", sinceAck, "interval", h.interval)
				if h.onDead != nil {
					h.onDead()
				}
				return
			}
			// Подтверждение приходило: дедлайн сдвигается от него
			watchdog.Reset(2*h.interval - sinceAck)

		case <-h.stopCh:
			return

		case <-ctx.Done():
			return
		}
	}
}

// beat отправляет очередной heartbeat.
// Возвращает false, когда цикл должен завершиться.
func (h *heartbeatScheduler) beat() bool {
	if err := h.send(); err != nil {
		slog.Debug("gateway.heartbeat Ошибка отправки", "error", err)
		// Отправку добьёт цикл приёма: транспортная ошибка видна и ему
		return false
	}

	h.mu.Lock()
	h.lastSent = time.Now()
	h.mu.Unlock()
	metricHeartbeatsSent.Inc()
	return true
}

// sinceAck возвращает время с момента последнего подтверждения
func (h *heartbeatScheduler) sinceAck() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return time.Since(h.lastAck)
}

// Ack фиксирует подтверждение от сервера
func (h *heartbeatScheduler) Ack() {
	h.mu.Lock()
	now := time.Now()
	latency := now.Sub(h.lastSent)
	h.lastAck = now
	h.mu.Unlock()

	if latency > 0 {
		metricHeartbeatLatency.Observe(latency.Seconds())
	}
}

// Stop останавливает цикл и дожидается его завершения
func (h *heartbeatScheduler) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
	})

	h.mu.Lock()
	started := h.started
	h.mu.Unlock()
	if started {
		<-h.doneCh
	}
}
