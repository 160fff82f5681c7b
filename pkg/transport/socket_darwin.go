//go:build darwin

package transport

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// applyVoiceSockOpts применяет macOS-специфичные настройки сокета для голоса
func applyVoiceSockOpts(fd uintptr) error {
	intFd := int(fd)

	// Буферы сокета — достаточный запас для пиковых моментов
	if err := syscall.SetsockoptInt(intFd, syscall.SOL_SOCKET, syscall.SO_RCVBUF, voiceRecvBuffer); err != nil {
		return fmt.Errorf("SO_RCVBUF (%d): %w", voiceRecvBuffer, err)
	}
	if err := syscall.SetsockoptInt(intFd, syscall.SOL_SOCKET, syscall.SO_SNDBUF, voiceSendBuffer); err != nil {
		return fmt.Errorf("SO_SNDBUF (%d): %w", voiceSendBuffer, err)
	}

	// DSCP маркировка: значение находится в старших 6 битах TOS поля
	tos := dscpExpeditedForwarding << 2
	_ = syscall.SetsockoptInt(intFd, syscall.IPPROTO_IP, syscall.IP_TOS, tos)

	// macOS не поддерживает SO_PRIORITY; предотвращаем SIGPIPE вместо этого
	_ = syscall.SetsockoptInt(intFd, syscall.SOL_SOCKET, unix.SO_NOSIGPIPE, 1)

	return nil
}
