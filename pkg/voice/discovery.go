package voice

import (
	"bytes"
	"context"
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/arzzra/chat_client/pkg/transport"
)

// discoveryPacketSize размер probe-пакета и минимальный размер ответа
const discoveryPacketSize = 70

// discoverExternalAddress выполняет IP discovery: отправляет probe с ssrc
// сессии и разбирает ответ сервера с внешне видимыми адресом и портом
// клиента. Потерянный probe повторяется до attempts раз.
func discoverExternalAddress(ctx context.Context, conn transport.PacketConn, ssrc uint32, attempts int, timeout time.Duration) (string, uint16, error) {
	probe := make([]byte, discoveryPacketSize)
	binary.BigEndian.PutUint32(probe[:4], ssrc)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := conn.Send(probe); err != nil {
			return "", 0, WrapVoiceError(ErrorCodeTransportClosed, "", "не удалось отправить discovery probe", err)
		}

		rctx, cancel := context.WithTimeout(ctx, timeout)
		data, _, err := conn.Receive(rctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return "", 0, WrapVoiceError(ErrorCodeDiscoveryFailed, "", "discovery прерван", ctx.Err())
			}
			lastErr = err
			slog.Debug("voice.discovery Ответ не получен", "attempt", attempt, "error", err)
			continue
		}

		address, port, err := parseDiscoveryResponse(data)
		if err != nil {
			lastErr = err
			slog.Debug("voice.discovery Невалидный ответ", "attempt", attempt, "error", err)
			continue
		}

		slog.Debug("voice.discovery Внешний адрес определён", "address", address, "port", port)
		return address, port, nil
	}

	return "", 0, WrapVoiceError(ErrorCodeDiscoveryFailed, "",
		"discovery не удался после всех попыток", lastErr)
}

// parseDiscoveryResponse разбирает ответ discovery: адрес —
// NUL-терминированная строка начиная со смещения 4, порт — little-endian
// в последних двух байтах.
func parseDiscoveryResponse(data []byte) (string, uint16, error) {
	if len(data) < discoveryPacketSize {
		return "", 0, NewVoiceError(ErrorCodePacketInvalid, "", "ответ discovery короче ожидаемого")
	}

	raw := data[4 : len(data)-2]
	end := bytes.IndexByte(raw, 0)
	if end < 0 {
		end = len(raw)
	}
	address := string(raw[:end])
	if address == "" {
		return "", 0, NewVoiceError(ErrorCodePacketInvalid, "", "ответ discovery без адреса")
	}

	port := binary.LittleEndian.Uint16(data[len(data)-2:])
	if port == 0 {
		return "", 0, NewVoiceError(ErrorCodePacketInvalid, "", "ответ discovery без порта")
	}
	return address, port, nil
}

// keepalivePacket строит пакет удержания NAT-привязки UDP канала
func keepalivePacket(ssrc uint32) []byte {
	packet := make([]byte, 4)
	binary.BigEndian.PutUint32(packet, ssrc)
	return packet
}
