package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Проверка соответствия интерфейсу во время компиляции
var _ PacketConn = (*UDPConn)(nil)

// UDPConn реализует PacketConn поверх UDP сокета.
// Сокет настраивается для голосового трафика (низкая латентность).
type UDPConn struct {
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
	bufferSize int

	mu     sync.RWMutex
	active bool
}

// DialPacket создаёт UDP канал к удалённому адресу из конфигурации
func DialPacket(config PacketConfig) (*UDPConn, error) {
	if config.BufferSize == 0 {
		config.BufferSize = 1500 // MTU по умолчанию
	}
	if config.LocalAddr == "" {
		config.LocalAddr = ":0"
	}
	if config.RemoteAddr == "" {
		return nil, fmt.Errorf("удалённый адрес обязателен для датаграммного канала")
	}

	localAddr, err := net.ResolveUDPAddr("udp", config.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка разрешения локального адреса: %w", err)
	}
	remoteAddr, err := net.ResolveUDPAddr("udp", config.RemoteAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка разрешения удалённого адреса: %w", err)
	}

	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания UDP сокета: %w", err)
	}

	// Настраиваем сокет для голосового трафика
	if err := setSockOptForVoice(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ошибка настройки сокета: %w", err)
	}

	return &UDPConn{
		conn:       conn,
		remoteAddr: remoteAddr,
		bufferSize: config.BufferSize,
		active:     true,
	}, nil
}

// Send отправляет одну датаграмму удалённой стороне
func (c *UDPConn) Send(data []byte) error {
	c.mu.RLock()
	active := c.active
	c.mu.RUnlock()

	if !active {
		return fmt.Errorf("датаграммный канал закрыт")
	}

	if _, err := c.conn.WriteToUDP(data, c.remoteAddr); err != nil {
		return fmt.Errorf("ошибка отправки датаграммы: %w", err)
	}
	return nil
}

// Receive получает одну датаграмму. Дедлайн контекста ограничивает ожидание.
func (c *UDPConn) Receive(ctx context.Context) ([]byte, net.Addr, error) {
	c.mu.RLock()
	active := c.active
	c.mu.RUnlock()

	if !active {
		return nil, nil, fmt.Errorf("датаграммный канал закрыт")
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, c.bufferSize)
	n, addr, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, err
	}
	return buf[:n], addr, nil
}

// LocalAddr возвращает локальный адрес сокета
func (c *UDPConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr возвращает удалённый адрес канала
func (c *UDPConn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// Close закрывает канал. Повторные вызовы безопасны.
func (c *UDPConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return nil
	}
	c.active = false
	return c.conn.Close()
}
