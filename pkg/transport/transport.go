package transport

import (
	"context"
	"fmt"
	"net"
)

// FrameConn определяет интерфейс постоянного канала с кадрированием
// сообщений. Реализация обязана быть безопасной для одновременного
// использования одним читателем и одним писателем.
type FrameConn interface {
	// ReadFrame блокируется до получения следующего кадра.
	// Дедлайн контекста ограничивает ожидание; без дедлайна чтение
	// прерывается только закрытием соединения.
	ReadFrame(ctx context.Context) ([]byte, error)

	// WriteFrame отправляет один текстовый кадр
	WriteFrame(ctx context.Context, data []byte) error

	// CloseWithStatus выполняет протокольное закрытие с кодом и причиной
	CloseWithStatus(code int, reason string) error

	// Close немедленно закрывает соединение
	Close() error
}

// PacketConn определяет интерфейс ненадёжного датаграммного канала.
// Используется voice сессией для аудио пакетов и IP discovery.
type PacketConn interface {
	// Send отправляет одну датаграмму удалённой стороне
	Send(data []byte) error

	// Receive получает одну датаграмму с указанием источника.
	// Дедлайн контекста ограничивает ожидание.
	Receive(ctx context.Context) ([]byte, net.Addr, error)

	// LocalAddr возвращает локальный адрес канала
	LocalAddr() net.Addr

	// RemoteAddr возвращает удалённый адрес канала
	RemoteAddr() net.Addr

	// Close закрывает канал
	Close() error
}

// CloseError описывает протокольное закрытие кадрированного канала
// удалённой стороной. Код закрытия определяет стратегию восстановления
// сессии (resume допустим или требуется полный handshake).
type CloseError struct {
	Code int
	Text string
}

// Error реализует интерфейс error
func (e *CloseError) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("канал закрыт удалённой стороной: %d %s", e.Code, e.Text)
	}
	return fmt.Sprintf("канал закрыт удалённой стороной: %d", e.Code)
}

// PacketConfig базовая конфигурация датаграммного канала
type PacketConfig struct {
	LocalAddr  string // Локальный адрес для привязки (по умолчанию ":0")
	RemoteAddr string // Удалённый адрес для отправки
	BufferSize int    // Размер буфера для чтения
}

// DefaultPacketConfig возвращает конфигурацию по умолчанию
func DefaultPacketConfig() PacketConfig {
	return PacketConfig{
		LocalAddr:  ":0",
		BufferSize: 1500, // Стандартный MTU
	}
}
