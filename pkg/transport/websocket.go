package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Проверка соответствия интерфейсу во время компиляции
var _ FrameConn = (*WSConn)(nil)

// Дедлайн записи по умолчанию: управляющие каналы не терпят
// неограниченного блокирования писателя.
const defaultWriteTimeout = 10 * time.Second

// WSConn реализует FrameConn поверх websocket соединения.
// Чтение и запись могут выполняться из разных горутин, но не более
// одного читателя и одного писателя одновременно.
type WSConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex // websocket допускает только одного писателя

	closeOnce sync.Once
	closeErr  error
}

// DialFrame устанавливает websocket соединение с указанным URL
func DialFrame(ctx context.Context, url string) (*WSConn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ошибка websocket handshake %s (HTTP %d): %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("ошибка websocket соединения %s: %w", url, err)
	}
	return &WSConn{conn: conn}, nil
}

// ReadFrame блокируется до получения следующего кадра.
// Закрытие соединения удалённой стороной возвращается как *CloseError.
func (c *WSConn) ReadFrame(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, convertWSError(err)
	}
	return data, nil
}

// WriteFrame отправляет один текстовый кадр
func (c *WSConn) WriteFrame(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}
	_ = c.conn.SetWriteDeadline(deadline)

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return convertWSError(err)
	}
	return nil
}

// CloseWithStatus выполняет протокольное закрытие: отправляет close кадр
// с кодом и причиной, затем закрывает соединение.
func (c *WSConn) CloseWithStatus(code int, reason string) error {
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason))
	c.writeMu.Unlock()
	return c.Close()
}

// Close немедленно закрывает соединение. Повторные вызовы безопасны.
func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// convertWSError переводит ошибки websocket библиотеки в типы транспорта.
// Close кадры становятся *CloseError, чтобы сессия могла выбрать стратегию
// восстановления по коду закрытия, не зная о websocket библиотеке.
func convertWSError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return &CloseError{Code: closeErr.Code, Text: closeErr.Text}
	}
	return err
}
