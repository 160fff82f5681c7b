//go:build windows

package transport

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// applyVoiceSockOpts применяет Windows-специфичные настройки сокета для голоса.
// Windows не поддерживает SO_PRIORITY; DSCP маркировка требует QoS2 API,
// поэтому ограничиваемся размерами буферов.
func applyVoiceSockOpts(fd uintptr) error {
	handle := windows.Handle(fd)

	if err := windows.SetsockoptInt(handle, windows.SOL_SOCKET, windows.SO_RCVBUF, voiceRecvBuffer); err != nil {
		return fmt.Errorf("SO_RCVBUF (%d): %w", voiceRecvBuffer, err)
	}
	if err := windows.SetsockoptInt(handle, windows.SOL_SOCKET, windows.SO_SNDBUF, voiceSendBuffer); err != nil {
		return fmt.Errorf("SO_SNDBUF (%d): %w", voiceSendBuffer, err)
	}
	return nil
}
