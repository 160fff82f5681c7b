package voice

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/chat_client/pkg/protocol"
	"github.com/arzzra/chat_client/pkg/transport"
)

// fakeControlConn — управляющий канал для тестов handshake
type fakeControlConn struct {
	inbound  chan []byte
	outbound chan []byte
	closed   chan struct{}
	once     sync.Once
}

func newFakeControlConn() *fakeControlConn {
	return &fakeControlConn{
		inbound:  make(chan []byte, 16),
		outbound: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (c *fakeControlConn) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-c.inbound:
		return frame, nil
	case <-c.closed:
		return nil, errors.New("канал закрыт")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeControlConn) WriteFrame(ctx context.Context, data []byte) error {
	select {
	case c.outbound <- data:
		return nil
	case <-c.closed:
		return errors.New("канал закрыт")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeControlConn) CloseWithStatus(code int, reason string) error { return c.Close() }

func (c *fakeControlConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeControlConn) serve(t *testing.T, op protocol.VoiceOp, d interface{}) {
	t.Helper()
	data, err := json.Marshal(d)
	require.NoError(t, err)
	frame, err := json.Marshal(protocol.Envelope{Op: int(op), Data: data})
	require.NoError(t, err)
	c.inbound <- frame
}

func (c *fakeControlConn) expectFrame(t *testing.T) *protocol.Envelope {
	t.Helper()
	select {
	case frame := <-c.outbound:
		env, err := protocol.ParseEnvelope(frame)
		require.NoError(t, err)
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("клиент не отправил ожидаемый кадр")
		return nil
	}
}

// secretKeyJSON переводит ключ в массив чисел формата session description
func secretKeyJSON(key [32]byte) []int {
	out := make([]int, len(key))
	for i, b := range key {
		out[i] = int(b)
	}
	return out
}

// voiceTestHarness поднимает подключение через полный scripted handshake
func voiceTestHarness(t *testing.T, modes []string) (*Connection, *fakeControlConn, *fakePacketConn, [32]byte) {
	t.Helper()

	ws := newFakeControlConn()
	udp := newFakePacketConn()
	key := testKey()

	var dialedURL string
	cfg := DefaultConfig()
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.SilenceTail = 1
	cfg.Dial = func(ctx context.Context, url string) (transport.FrameConn, error) {
		dialedURL = url
		return ws, nil
	}
	cfg.DialPacket = func(remote string) (transport.PacketConn, error) {
		return udp, nil
	}

	conn := New(cfg, protocol.ServerID(1), protocol.UserID(100))

	// Ответ discovery готов до того, как клиент отправит probe
	udp.responses <- discoveryResponse("203.0.113.9", 5555)

	go func() {
		env := ws.expectFrame(t)
		require.Equal(t, int(protocol.VoiceOpIdentify), env.Op)
		var identify map[string]string
		require.NoError(t, json.Unmarshal(env.Data, &identify))
		assert.Equal(t, "vsess", identify["session_id"])
		assert.Equal(t, "vtok", identify["token"])

		ws.serve(t, protocol.VoiceOpReady, map[string]interface{}{
			"ssrc":               7,
			"ip":                 "192.0.2.1",
			"port":               4000,
			"modes":              modes,
			"heartbeat_interval": 60000,
		})

		env = ws.expectFrame(t)
		require.Equal(t, int(protocol.VoiceOpSelectProtocol), env.Op)
		var sel struct {
			Protocol string `json:"protocol"`
			Data     struct {
				Address string `json:"address"`
				Port    uint16 `json:"port"`
				Mode    string `json:"mode"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &sel))
		assert.Equal(t, "udp", sel.Protocol)
		assert.Equal(t, "203.0.113.9", sel.Data.Address)
		assert.Equal(t, uint16(5555), sel.Data.Port)
		assert.Equal(t, EncryptionModeSecretbox, sel.Data.Mode)

		ws.serve(t, protocol.VoiceOpSessionDescription, map[string]interface{}{
			"mode":       EncryptionModeSecretbox,
			"secret_key": secretKeyJSON(key),
		})
	}()

	endpoint := "voice.test:80"
	conn.Update(protocol.VoiceStateUpdate{
		ServerID: 1, UserID: 100, SessionID: "vsess",
	})
	conn.Update(protocol.VoiceServerUpdate{
		ServerID: 1, Token: "vtok", Endpoint: &endpoint,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := conn.WaitReady(ctx)
	if err == nil {
		assert.Equal(t, "wss://voice.test", dialedURL, "суффикс :80 отбрасывается")
	}
	require.NoError(t, err)

	return conn, ws, udp, key
}

func TestConnectionHandshake(t *testing.T) {
	conn, _, _, _ := voiceTestHarness(t, []string{"aead_xchacha20", EncryptionModeSecretbox})
	defer conn.Disconnect()

	assert.Equal(t, StateReady, conn.State())
	assert.Equal(t, uint32(7), conn.SSRC())
}

func TestConnectionWaitReadyAfterControlFailure(t *testing.T) {
	conn, ws, _, _ := voiceTestHarness(t, []string{EncryptionModeSecretbox})
	defer conn.Disconnect()

	// Обрыв управляющего канала после установления сессии
	require.NoError(t, ws.Close())

	require.Eventually(t, func() bool {
		return conn.State() == StateClosed
	}, 2*time.Second, 10*time.Millisecond, "обрыв канала должен закрыть подключение")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := conn.WaitReady(ctx)
	require.Error(t, err, "WaitReady на мёртвом подключении обязан вернуть ошибку")
	assert.True(t, HasErrorCode(err, ErrorCodeConnectionClosed))
}

func TestConnectionUnsupportedEncryptionMode(t *testing.T) {
	ws := newFakeControlConn()
	cfg := DefaultConfig()
	cfg.HandshakeTimeout = time.Second
	cfg.Dial = func(ctx context.Context, url string) (transport.FrameConn, error) {
		return ws, nil
	}
	cfg.DialPacket = func(remote string) (transport.PacketConn, error) {
		t.Fatal("UDP канал не должен открываться без общего режима шифрования")
		return nil, nil
	}

	conn := New(cfg, protocol.ServerID(1), protocol.UserID(100))
	defer conn.Disconnect()

	go func() {
		ws.expectFrame(t) // identify
		ws.serve(t, protocol.VoiceOpReady, map[string]interface{}{
			"ssrc":               7,
			"port":               4000,
			"modes":              []string{"aead_only", "plain"},
			"heartbeat_interval": 60000,
		})
	}()

	endpoint := "voice.test"
	conn.Update(protocol.VoiceStateUpdate{ServerID: 1, UserID: 100, SessionID: "vsess"})
	conn.Update(protocol.VoiceServerUpdate{ServerID: 1, Token: "vtok", Endpoint: &endpoint})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := conn.WaitReady(ctx)
	require.Error(t, err)
	assert.True(t, HasErrorCode(err, ErrorCodeUnsupportedEncryptionMode),
		"ожидалась ошибка режима шифрования, получено: %v", err)

	var voiceErr *VoiceError
	require.True(t, errors.As(err, &voiceErr))
	assert.NotNil(t, voiceErr.GetContext("modes"), "ошибка перечисляет режимы сервера")
}

func TestConnectionPlayback(t *testing.T) {
	conn, ws, udp, key := voiceTestHarness(t, []string{EncryptionModeSecretbox})
	defer conn.Disconnect()

	frames := 0
	source := FrameFunc(func(ctx context.Context) ([]byte, error) {
		if frames == 2 {
			return nil, io.EOF
		}
		frames++
		return []byte{0xAA, byte(frames)}, nil
	})

	_, err := conn.Play(source, "тест")
	require.NoError(t, err)

	// Индикация речи до первого аудио пакета
	env := ws.expectFrame(t)
	require.Equal(t, int(protocol.VoiceOpSpeaking), env.Op)
	var speaking struct {
		Speaking bool `json:"speaking"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &speaking))
	assert.True(t, speaking.Speaking)

	// Два кадра источника + хвост тишины; первый отправленный пакет —
	// discovery probe
	deadline := time.Now().Add(2 * time.Second)
	for udp.sentCount() < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.GreaterOrEqual(t, udp.sentCount(), 4, "ожидались аудио пакеты после probe")

	receiver := newCipherState(key)
	udp.mu.Lock()
	first := append([]byte(nil), udp.sent[1]...)
	second := append([]byte(nil), udp.sent[2]...)
	udp.mu.Unlock()

	frame1, err := parseInbound(receiver, first)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), frame1.SSRC)
	assert.Equal(t, uint16(0), frame1.Sequence)
	assert.Equal(t, []byte{0xAA, 1}, frame1.Payload)

	frame2, err := parseInbound(receiver, second)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), frame2.Sequence)
	assert.Equal(t, frame1.Timestamp+samplesPerFrame, frame2.Timestamp)

	// После хвоста тишины приходит speaking(false)
	env = ws.expectFrame(t)
	require.Equal(t, int(protocol.VoiceOpSpeaking), env.Op)
	require.NoError(t, json.Unmarshal(env.Data, &speaking))
	assert.False(t, speaking.Speaking)
}

func TestConnectionReceive(t *testing.T) {
	type received struct {
		ssrc    uint32
		payload []byte
	}
	var mu sync.Mutex
	var packets []received
	var speakers []uint32

	receiver := receiverFunc{
		onSpeaking: func(ssrc uint32, userID protocol.UserID, speaking bool) {
			mu.Lock()
			speakers = append(speakers, ssrc)
			mu.Unlock()
		},
		onPacket: func(ssrc uint32, seq uint16, ts uint32, payload []byte) {
			mu.Lock()
			packets = append(packets, received{ssrc: ssrc, payload: payload})
			mu.Unlock()
		},
	}

	ws := newFakeControlConn()
	udp := newFakePacketConn()
	key := testKey()

	cfg := DefaultConfig()
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.Receiver = receiver
	cfg.Dial = func(ctx context.Context, url string) (transport.FrameConn, error) { return ws, nil }
	cfg.DialPacket = func(remote string) (transport.PacketConn, error) { return udp, nil }

	conn := New(cfg, protocol.ServerID(1), protocol.UserID(100))
	defer conn.Disconnect()

	udp.responses <- discoveryResponse("203.0.113.9", 5555)
	go func() {
		ws.expectFrame(t) // identify
		ws.serve(t, protocol.VoiceOpReady, map[string]interface{}{
			"ssrc": 7, "port": 4000,
			"modes":              []string{EncryptionModeSecretbox},
			"heartbeat_interval": 60000,
		})
		ws.expectFrame(t) // select protocol
		ws.serve(t, protocol.VoiceOpSessionDescription, map[string]interface{}{
			"mode":       EncryptionModeSecretbox,
			"secret_key": secretKeyJSON(key),
		})
	}()

	endpoint := "voice.test"
	conn.Update(protocol.VoiceStateUpdate{ServerID: 1, UserID: 100, SessionID: "vsess"})
	conn.Update(protocol.VoiceServerUpdate{ServerID: 1, Token: "vtok", Endpoint: &endpoint})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, conn.WaitReady(ctx))

	// Индикация речи другого участника привязывает ssrc к пользователю
	ws.serve(t, protocol.VoiceOpSpeaking, map[string]interface{}{
		"user_id": "200", "ssrc": 55, "speaking": true,
	})

	// Входящий аудио пакет другого участника
	sender := newPacketizer(55, newCipherState(key))
	packet, err := sender.next([]byte{0x11, 0x22})
	require.NoError(t, err)
	udp.responses <- packet

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := len(packets) > 0 && len(speakers) > 0
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, packets, "входящий пакет должен дойти до приёмника")
	assert.Equal(t, uint32(55), packets[0].ssrc)
	assert.Equal(t, []byte{0x11, 0x22}, packets[0].payload)
	require.NotEmpty(t, speakers)

	userID, ok := conn.UserForSSRC(55)
	assert.True(t, ok)
	assert.Equal(t, protocol.UserID(200), userID)
}

// receiverFunc адаптирует функции в AudioReceiver
type receiverFunc struct {
	onSpeaking func(ssrc uint32, userID protocol.UserID, speaking bool)
	onPacket   func(ssrc uint32, sequence uint16, timestamp uint32, payload []byte)
}

func (r receiverFunc) SpeakingUpdate(ssrc uint32, userID protocol.UserID, speaking bool) {
	r.onSpeaking(ssrc, userID, speaking)
}

func (r receiverFunc) VoicePacket(ssrc uint32, sequence uint16, timestamp uint32, payload []byte) {
	r.onPacket(ssrc, sequence, timestamp, payload)
}
