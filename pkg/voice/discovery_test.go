package voice

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePacketConn — датаграммный канал для тестов со сценарием ответов
type fakePacketConn struct {
	mu        sync.Mutex
	sent      [][]byte
	responses chan []byte
	closed    chan struct{}
	once      sync.Once
}

func newFakePacketConn() *fakePacketConn {
	return &fakePacketConn{
		responses: make(chan []byte, 16),
		closed:    make(chan struct{}),
	}
}

func (c *fakePacketConn) Send(data []byte) error {
	c.mu.Lock()
	c.sent = append(c.sent, append([]byte(nil), data...))
	c.mu.Unlock()
	return nil
}

func (c *fakePacketConn) Receive(ctx context.Context) ([]byte, net.Addr, error) {
	select {
	case data := <-c.responses:
		return data, nil, nil
	case <-c.closed:
		return nil, nil, net.ErrClosed
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (c *fakePacketConn) LocalAddr() net.Addr  { return &net.UDPAddr{Port: 1} }
func (c *fakePacketConn) RemoteAddr() net.Addr { return &net.UDPAddr{Port: 2} }

func (c *fakePacketConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakePacketConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// discoveryResponse собирает ответ сервера на probe
func discoveryResponse(address string, port uint16) []byte {
	data := make([]byte, discoveryPacketSize)
	copy(data[4:], address)
	binary.LittleEndian.PutUint16(data[len(data)-2:], port)
	return data
}

func TestDiscoverExternalAddress(t *testing.T) {
	t.Run("Адрес и порт из ответа сервера", func(t *testing.T) {
		conn := newFakePacketConn()
		conn.responses <- discoveryResponse("203.0.113.5", 50000)

		address, port, err := discoverExternalAddress(context.Background(), conn, 777, 3, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "203.0.113.5", address)
		assert.Equal(t, uint16(50000), port)

		require.Equal(t, 1, conn.sentCount())
		probe := conn.sent[0]
		assert.Len(t, probe, discoveryPacketSize)
		assert.Equal(t, uint32(777), binary.BigEndian.Uint32(probe[:4]), "probe несёт ssrc")
	})

	t.Run("Потерянный probe повторяется", func(t *testing.T) {
		conn := newFakePacketConn()
		go func() {
			// Первый probe теряется, ответ приходит после второго
			time.Sleep(60 * time.Millisecond)
			conn.responses <- discoveryResponse("198.51.100.1", 4000)
		}()

		address, _, err := discoverExternalAddress(context.Background(), conn, 1, 3, 50*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, "198.51.100.1", address)
		assert.GreaterOrEqual(t, conn.sentCount(), 2)
	})

	t.Run("Все попытки исчерпаны", func(t *testing.T) {
		conn := newFakePacketConn()
		_, _, err := discoverExternalAddress(context.Background(), conn, 1, 2, 10*time.Millisecond)
		require.Error(t, err)
		assert.True(t, HasErrorCode(err, ErrorCodeDiscoveryFailed))
		assert.Equal(t, 2, conn.sentCount())
	})
}

func TestParseDiscoveryResponse(t *testing.T) {
	t.Run("Короткий ответ отвергается", func(t *testing.T) {
		_, _, err := parseDiscoveryResponse(make([]byte, 10))
		require.Error(t, err)
	})

	t.Run("Пустой адрес отвергается", func(t *testing.T) {
		_, _, err := parseDiscoveryResponse(discoveryResponse("", 4000))
		require.Error(t, err)
	})

	t.Run("Нулевой порт отвергается", func(t *testing.T) {
		_, _, err := parseDiscoveryResponse(discoveryResponse("1.2.3.4", 0))
		require.Error(t, err)
	})
}

func TestKeepalivePacket(t *testing.T) {
	packet := keepalivePacket(0xDEADBEEF)
	require.Len(t, packet, 4)
	assert.Equal(t, uint32(0xDEADBEEF), binary.BigEndian.Uint32(packet))
}
