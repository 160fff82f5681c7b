package voice

import (
	"time"

	"github.com/pion/rtp"
)

const (
	// payloadTypeAudio тип полезной нагрузки аудио пакетов протокола
	payloadTypeAudio = 0x78

	// Параметры аудио потока, фиксированные протоколом
	sampleRate      = 48000
	channelCount    = 2
	samplesPerFrame = 960

	// FrameDuration длительность одного аудио кадра
	FrameDuration = 20 * time.Millisecond
)

// silenceFrame — кадр тишины кодека. Отправляется вместо пропущенного
// кадра источника и хвостом после окончания передачи, чтобы приёмная
// сторона корректно завершила интерполяцию потерь.
var silenceFrame = []byte{0xF8, 0xFF, 0xFE}

// packetizer строит исходящие аудио пакеты: заголовок с монотонными
// счетчиками последовательности и времени, полезная нагрузка шифруется.
// Счетчики переполняются по модулю своей разрядности, это часть протокола.
// Не потокобезопасен: им владеет единственный цикл отправки.
type packetizer struct {
	ssrc      uint32
	sequence  uint16
	timestamp uint32
	cipher    *cipherState
}

func newPacketizer(ssrc uint32, cipher *cipherState) *packetizer {
	return &packetizer{ssrc: ssrc, cipher: cipher}
}

// next шифрует кадр и возвращает готовый к отправке пакет,
// продвигая счетчики последовательности и времени.
func (p *packetizer) next(frame []byte) ([]byte, error) {
	header := rtp.Header{
		Version:        2,
		PayloadType:    payloadTypeAudio,
		SequenceNumber: p.sequence,
		Timestamp:      p.timestamp,
		SSRC:           p.ssrc,
	}
	raw, err := header.Marshal()
	if err != nil {
		return nil, WrapVoiceError(ErrorCodePacketInvalid, "", "не удалось собрать заголовок пакета", err)
	}

	packet := p.cipher.seal(raw, frame)

	// Переполнение uint16/uint32 здесь корректно: счетчики протокола
	// циклические
	p.sequence++
	p.timestamp += samplesPerFrame
	return packet, nil
}

// inboundFrame — расшифрованный входящий аудио кадр другого участника
type inboundFrame struct {
	SSRC      uint32
	Sequence  uint16
	Timestamp uint32
	Payload   []byte
}

// parseInbound разбирает и расшифровывает входящий аудио пакет
func parseInbound(cipher *cipherState, data []byte) (*inboundFrame, error) {
	if len(data) < packetHeaderSize {
		return nil, NewVoiceError(ErrorCodePacketInvalid, "", "пакет короче заголовка")
	}

	var header rtp.Header
	if _, err := header.Unmarshal(data[:packetHeaderSize]); err != nil {
		return nil, WrapVoiceError(ErrorCodePacketInvalid, "", "невалидный заголовок пакета", err)
	}

	payload, err := cipher.open(data)
	if err != nil {
		return nil, err
	}

	return &inboundFrame{
		SSRC:      header.SSRC,
		Sequence:  header.SequenceNumber,
		Timestamp: header.Timestamp,
		Payload:   payload,
	}, nil
}
