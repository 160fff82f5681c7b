package voice

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// trackReader выкачивает кадры источника в буферизованный канал,
// чтобы медленный источник не блокировал цикл отправки.
type trackReader struct {
	track  *Track
	frames chan []byte
	stop   chan struct{}
	err    error // читается только после закрытия frames
}

func startTrackReader(ctx context.Context, track *Track, buffer int) *trackReader {
	r := &trackReader{
		track:  track,
		frames: make(chan []byte, buffer),
		stop:   make(chan struct{}),
	}
	go func() {
		defer close(r.frames)
		for {
			frame, err := track.Source.NextFrame(ctx)
			if err != nil {
				if err != io.EOF && ctx.Err() == nil {
					r.err = err
				}
				return
			}
			select {
			case r.frames <- frame:
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return r
}

// abort останавливает чтение источника и закрывает его
func (r *trackReader) abort() {
	close(r.stop)
	_ = r.track.Source.Close()
}

// pacer отправляет аудио кадры с постоянным темпом один кадр в
// FrameDuration. Темп держится по абсолютным дедлайнам: каждый
// следующий дедлайн вычисляется от предыдущего, а не от момента
// пробуждения, поэтому дрейф не накапливается.
//
// Правила передачи:
//   - смена молчит→говорит сигнализируется до первого аудио кадра;
//   - если источник не успел отдать кадр, вместо него уходит тишина;
//   - после окончания источника уходит хвост кадров тишины, затем
//     сигнализируется говорит→молчит.
type pacer struct {
	queue       *playbackQueue
	emit        func(frame []byte) error
	setSpeaking func(speaking bool) error
	silenceTail int
	frameDur    time.Duration
	buffer      int
	skip        chan struct{}
}

func newPacer(queue *playbackQueue, emit func([]byte) error, setSpeaking func(bool) error, silenceTail, buffer int) *pacer {
	return &pacer{
		queue:       queue,
		emit:        emit,
		setSpeaking: setSpeaking,
		silenceTail: silenceTail,
		frameDur:    FrameDuration,
		buffer:      buffer,
		skip:        make(chan struct{}, 1),
	}
}

// skipCurrent просит цикл отправки прервать текущий трек
func (p *pacer) skipCurrent() {
	select {
	case p.skip <- struct{}{}:
	default:
	}
}

func (p *pacer) run(ctx context.Context) {
	slog.Debug("voice.pacer Started", "frame_duration", p.frameDur)
	defer slog.Debug("voice.pacer Stopped")

	var current *trackReader
	speaking := false
	silenceLeft := 0
	next := time.Now()

	defer func() {
		if current != nil {
			current.abort()
		}
		if speaking {
			_ = p.setSpeaking(false)
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		select {
		case <-p.skip:
			if current != nil {
				slog.Debug("voice.pacer Трек прерван", "track_id", current.track.ID)
				current.abort()
				current = nil
				silenceLeft = p.silenceTail
			}
		default:
		}

		if current == nil {
			if track := p.queue.Next(); track != nil {
				slog.Debug("voice.pacer Начало трека", "track_id", track.ID, "title", track.Title)
				current = startTrackReader(ctx, track, p.buffer)
				if silenceLeft == 0 {
					// После простоя темп начинается заново
					next = time.Now()
				}
			}
		}

		var frame []byte
		starved := false
		if current != nil {
			select {
			case f, ok := <-current.frames:
				if !ok {
					if current.err != nil {
						slog.Warn("voice.pacer Источник завершился с ошибкой",
							"track_id", current.track.ID, "error", current.err)
					}
					_ = current.track.Source.Close()
					current = nil
					silenceLeft = p.silenceTail
				} else {
					frame = f
				}
			default:
				starved = true
			}
		}

		if frame == nil {
			switch {
			case starved && speaking:
				// Источник не успел: тишина держит темп потока
				frame = silenceFrame
				metricSilenceSent.Inc()
			case silenceLeft > 0:
				frame = silenceFrame
				silenceLeft--
			}
		}

		if frame != nil {
			if !speaking {
				if err := p.setSpeaking(true); err != nil {
					slog.Debug("voice.pacer Ошибка отправки speaking", "error", err)
					return
				}
				speaking = true
			}
			if err := p.emit(frame); err != nil {
				slog.Debug("voice.pacer Ошибка отправки кадра", "error", err)
				return
			}
			metricPacketsSent.Inc()
		} else if speaking {
			if err := p.setSpeaking(false); err != nil {
				return
			}
			speaking = false
		}

		next = next.Add(p.frameDur)
		delay := time.Until(next)
		if delay < -3*p.frameDur {
			// После долгой задержки темп не навёрстывается пачкой кадров
			next = time.Now()
			delay = 0
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}
}
