package transport

import (
	"fmt"
	"net"
)

// Константы настройки сокета для голосового трафика
const (
	// Размеры буферов сокета: 64KB достаточно для буферизации
	// нескольких секунд аудио при 20ms кадрах
	voiceRecvBuffer = 65535
	voiceSendBuffer = 65535

	// DSCP Expedited Forwarding (RFC 4594) — высший приоритет
	// для интерактивного аудио
	dscpExpeditedForwarding = 46
)

// setSockOptForVoice применяет настройки сокета для голосового трафика:
// увеличенные буферы, DSCP маркировку и платформо-специфичные оптимизации.
// Ошибки отдельных опций не фатальны (контейнеры могут их запрещать).
func setSockOptForVoice(conn *net.UDPConn) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("не удалось получить системный сокет: %w", err)
	}

	var sockOptErr error
	err = rawConn.Control(func(fd uintptr) {
		sockOptErr = applyVoiceSockOpts(fd)
	})
	if err != nil {
		return fmt.Errorf("ошибка управления сокетом: %w", err)
	}
	return sockOptErr
}

// applyVoiceSockOpts применяет системные опции сокета.
// Реализация зависит от платформы (см. socket_*.go файлы).
