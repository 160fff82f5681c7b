package voice

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Track — элемент очереди воспроизведения
type Track struct {
	ID     uuid.UUID
	Title  string
	Source AudioSource
}

// playbackQueue — очередь источников аудио. Треки проигрываются
// последовательно в порядке добавления; цикл отправки забирает
// следующий трек после окончания текущего. Очередь ограничена:
// при переполнении вытесняется самый старый ожидающий трек, добавление
// никогда не блокирует производителя.
type playbackQueue struct {
	mu       sync.Mutex
	capacity int
	tracks   []*Track
	closed   bool
}

func newPlaybackQueue(capacity int) *playbackQueue {
	return &playbackQueue{capacity: capacity}
}

// Enqueue добавляет источник в хвост очереди и возвращает идентификатор трека
func (q *playbackQueue) Enqueue(source AudioSource, title string) (uuid.UUID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return uuid.Nil, NewVoiceError(ErrorCodeQueueClosed, "", "очередь воспроизведения закрыта")
	}

	if q.capacity > 0 && len(q.tracks) >= q.capacity {
		evicted := q.tracks[0]
		q.tracks = q.tracks[1:]
		_ = evicted.Source.Close()
		slog.Warn("voice.queue Очередь переполнена, старый трек вытеснен",
			"evicted", evicted.ID, "title", evicted.Title)
	}

	track := &Track{
		ID:     uuid.New(),
		Title:  title,
		Source: source,
	}
	q.tracks = append(q.tracks, track)
	metricQueueDepth.Set(float64(len(q.tracks)))
	return track.ID, nil
}

// Next забирает следующий трек или nil, если очередь пуста
func (q *playbackQueue) Next() *Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tracks) == 0 {
		return nil
	}
	track := q.tracks[0]
	q.tracks = q.tracks[1:]
	metricQueueDepth.Set(float64(len(q.tracks)))
	return track
}

// Remove удаляет трек из очереди по идентификатору.
// Текущий проигрываемый трек очереди уже не принадлежит.
func (q *playbackQueue) Remove(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, track := range q.tracks {
		if track.ID == id {
			q.tracks = append(q.tracks[:i], q.tracks[i+1:]...)
			metricQueueDepth.Set(float64(len(q.tracks)))
			_ = track.Source.Close()
			return true
		}
	}
	return false
}

// Clear опустошает очередь, закрывая источники ожидающих треков
func (q *playbackQueue) Clear() {
	q.mu.Lock()
	tracks := q.tracks
	q.tracks = nil
	q.mu.Unlock()

	metricQueueDepth.Set(0)
	for _, track := range tracks {
		_ = track.Source.Close()
	}
}

// Pending возвращает число треков, ожидающих воспроизведения
func (q *playbackQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracks)
}

// CloseQueue закрывает очередь для новых треков и опустошает её
func (q *playbackQueue) CloseQueue() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.Clear()
}
