//go:build linux

package transport

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// applyVoiceSockOpts применяет Linux-специфичные настройки сокета для голоса
func applyVoiceSockOpts(fd uintptr) error {
	intFd := int(fd)

	// Буферы сокета — достаточный запас для пиковых моментов
	if err := syscall.SetsockoptInt(intFd, syscall.SOL_SOCKET, syscall.SO_RCVBUF, voiceRecvBuffer); err != nil {
		return fmt.Errorf("SO_RCVBUF (%d): %w", voiceRecvBuffer, err)
	}
	if err := syscall.SetsockoptInt(intFd, syscall.SOL_SOCKET, syscall.SO_SNDBUF, voiceSendBuffer); err != nil {
		return fmt.Errorf("SO_SNDBUF (%d): %w", voiceSendBuffer, err)
	}

	// Высокий приоритет сокета для голосового трафика.
	// Значение 6 соответствует приоритету интерактивного аудио.
	// Игнорируем ошибку если система не поддерживает (контейнеры, etc.)
	_ = syscall.SetsockoptInt(intFd, syscall.SOL_SOCKET, unix.SO_PRIORITY, 6)

	// DSCP маркировка: значение находится в старших 6 битах TOS поля
	tos := dscpExpeditedForwarding << 2
	_ = syscall.SetsockoptInt(intFd, syscall.IPPROTO_IP, syscall.IP_TOS, tos)
	_ = syscall.SetsockoptInt(intFd, syscall.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)

	// SO_BUSY_POLL — активное ожидание для снижения латентности (ядро 3.11+)
	_ = syscall.SetsockoptInt(intFd, syscall.SOL_SOCKET, unix.SO_BUSY_POLL, 50)

	return nil
}
