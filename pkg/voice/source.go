package voice

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"strconv"
)

// AudioSource отдаёт закодированные аудио кадры по одному.
// io.EOF из NextFrame означает штатное окончание источника.
type AudioSource interface {
	// NextFrame возвращает следующий кадр длительностью FrameDuration
	NextFrame(ctx context.Context) ([]byte, error)

	// Close освобождает ресурсы источника
	Close() error
}

// Encoder кодирует PCM сэмплы одного кадра в полезную нагрузку пакета.
// Реализация кодека — внешняя зависимость; пакет работает с готовыми
// кадрами и не заглядывает внутрь.
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
}

// Decoder декодирует полезную нагрузку пакета обратно в PCM сэмплы
type Decoder interface {
	Decode(payload []byte) ([]int16, error)
}

// FrameFunc адаптирует функцию в AudioSource
type FrameFunc func(ctx context.Context) ([]byte, error)

// NextFrame вызывает функцию
func (f FrameFunc) NextFrame(ctx context.Context) ([]byte, error) { return f(ctx) }

// Close ничего не делает
func (f FrameFunc) Close() error { return nil }

// PCMSource читает сырой PCM поток (s16le, 48 кГц, стерео) и кодирует
// его в аудио кадры через внешний Encoder. Неполный последний кадр
// дополняется тишиной до полной длительности.
type PCMSource struct {
	reader  io.ReadCloser
	encoder Encoder
	buf     []byte
	pcm     []int16
	done    bool
}

// NewPCMSource создает источник поверх PCM потока
func NewPCMSource(reader io.ReadCloser, encoder Encoder) *PCMSource {
	frameBytes := samplesPerFrame * channelCount * 2
	return &PCMSource{
		reader:  reader,
		encoder: encoder,
		buf:     make([]byte, frameBytes),
		pcm:     make([]int16, samplesPerFrame*channelCount),
	}
}

// NextFrame читает и кодирует один кадр
func (s *PCMSource) NextFrame(ctx context.Context) ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, err := io.ReadFull(s.reader, s.buf)
	if err != nil {
		if err != io.ErrUnexpectedEOF || n == 0 {
			s.done = true
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, io.EOF
			}
			return nil, WrapVoiceError(ErrorCodeSourceFailed, "", "ошибка чтения PCM потока", err)
		}
		// Неполный хвост потока добивается тишиной
		for i := n; i < len(s.buf); i++ {
			s.buf[i] = 0
		}
		s.done = true
	}

	for i := range s.pcm {
		s.pcm[i] = int16(binary.LittleEndian.Uint16(s.buf[i*2:]))
	}

	frame, err := s.encoder.Encode(s.pcm)
	if err != nil {
		return nil, WrapVoiceError(ErrorCodeSourceFailed, "", "ошибка кодирования кадра", err)
	}
	return frame, nil
}

// Close закрывает подлежащий поток
func (s *PCMSource) Close() error {
	return s.reader.Close()
}

// ffmpegSource — источник поверх внешнего процесса ffmpeg,
// декодирующего медиа файл в PCM поток
type ffmpegSource struct {
	*PCMSource
	cmd *exec.Cmd
}

// NewFileSource открывает медиа файл через ffmpeg и возвращает источник
// его аудио дорожки. Требует ffmpeg в PATH.
func NewFileSource(path string, encoder Encoder) (AudioSource, error) {
	cmd := exec.Command("ffmpeg",
		"-i", path,
		"-f", "s16le",
		"-ac", strconv.Itoa(channelCount),
		"-ar", strconv.Itoa(sampleRate),
		"-acodec", "pcm_s16le",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, WrapVoiceError(ErrorCodeSourceFailed, "", "не удалось открыть pipe ffmpeg", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, WrapVoiceError(ErrorCodeSourceFailed, "",
			fmt.Sprintf("не удалось запустить ffmpeg для %s", path), err)
	}

	return &ffmpegSource{
		PCMSource: NewPCMSource(stdout, encoder),
		cmd:       cmd,
	}, nil
}

// Close останавливает процесс ffmpeg
func (s *ffmpegSource) Close() error {
	err := s.PCMSource.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
	return err
}
