package gateway

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig параметры экспоненциальной задержки между попытками
// переподключения. Попытки всегда ограничены: исчерпание MaxRetries
// завершает сессию терминальной ошибкой, а не тихим бесконечным циклом.
type BackoffConfig struct {
	// Initial начальная задержка перед первой повторной попыткой
	Initial time.Duration
	// Max верхняя граница задержки
	Max time.Duration
	// Factor множитель роста задержки между попытками
	Factor float64
	// Jitter доля случайного отклонения задержки (0..1)
	Jitter float64
	// MaxRetries максимальное число последовательных неудачных попыток
	MaxRetries int
}

// DefaultBackoffConfig возвращает конфигурацию backoff по умолчанию
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    1 * time.Second,
		Max:        60 * time.Second,
		Factor:     2.0,
		Jitter:     0.3,
		MaxRetries: 8,
	}
}

// backoff вычисляет задержки последовательных попыток переподключения.
// Не потокобезопасен: используется только циклом восстановления сессии.
type backoff struct {
	config  BackoffConfig
	attempt int
}

func newBackoff(config BackoffConfig) *backoff {
	if config.Initial <= 0 {
		config.Initial = time.Second
	}
	if config.Max < config.Initial {
		config.Max = config.Initial
	}
	if config.Factor < 1 {
		config.Factor = 2.0
	}
	return &backoff{config: config}
}

// Next возвращает задержку перед следующей попыткой и увеличивает счетчик.
// Вторым значением возвращает false, когда попытки исчерпаны.
func (b *backoff) Next() (time.Duration, bool) {
	if b.config.MaxRetries > 0 && b.attempt >= b.config.MaxRetries {
		return 0, false
	}

	delay := float64(b.config.Initial) * math.Pow(b.config.Factor, float64(b.attempt))
	if delay > float64(b.config.Max) {
		delay = float64(b.config.Max)
	}
	if b.config.Jitter > 0 {
		// Симметричный jitter разводит одновременные переподключения клиентов
		delay += delay * b.config.Jitter * (2*rand.Float64() - 1)
	}

	b.attempt++
	return time.Duration(delay), true
}

// Reset сбрасывает счетчик попыток после успешного соединения
func (b *backoff) Reset() {
	b.attempt = 0
}

// Attempt возвращает номер текущей попытки
func (b *backoff) Attempt() int {
	return b.attempt
}
