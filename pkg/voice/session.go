package voice

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/arzzra/chat_client/pkg/protocol"
	"github.com/arzzra/chat_client/pkg/transport"
)

// ConnectionState представляет состояние голосового подключения
type ConnectionState string

const (
	StateIdle        ConnectionState = "idle"
	StateDiscovering ConnectionState = "discovering"
	StateHandshaking ConnectionState = "handshaking"
	StateReady       ConnectionState = "ready"
	StateClosed      ConnectionState = "closed"
)

// AudioReceiver принимает входящее аудио других участников.
// Методы вызываются из фоновых goroutine подключения; реализация
// обязана быть потокобезопасной и не блокировать надолго.
type AudioReceiver interface {
	// SpeakingUpdate сообщает привязку ssrc к участнику и смену его
	// состояния говорит/молчит
	SpeakingUpdate(ssrc uint32, userID protocol.UserID, speaking bool)

	// VoicePacket доставляет один расшифрованный аудио кадр
	VoicePacket(ssrc uint32, sequence uint16, timestamp uint32, payload []byte)
}

// Config конфигурация голосового подключения
type Config struct {
	// HandshakeTimeout ограничивает длительность полного voice handshake
	HandshakeTimeout time.Duration

	// DiscoveryAttempts число повторов IP discovery probe
	DiscoveryAttempts int

	// DiscoveryTimeout ожидание ответа на один probe
	DiscoveryTimeout time.Duration

	// SilenceTail число кадров тишины после окончания источника
	SilenceTail int

	// FrameBuffer глубина буфера кадров между источником и циклом отправки
	FrameBuffer int

	// QueueCapacity предел очереди воспроизведения; при переполнении
	// вытесняется самый старый ожидающий трек
	QueueCapacity int

	// KeepaliveInterval период пакетов удержания NAT-привязки UDP канала
	KeepaliveInterval time.Duration

	// Receiver приёмник входящего аудио, nil отключает приём
	Receiver AudioReceiver

	// Dial фабрика кадрированного транспорта, подменяется в тестах
	Dial func(ctx context.Context, url string) (transport.FrameConn, error)

	// DialPacket фабрика датаграммного транспорта, подменяется в тестах
	DialPacket func(remoteAddr string) (transport.PacketConn, error)
}

// DefaultConfig возвращает конфигурацию голосового подключения по умолчанию
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  20 * time.Second,
		DiscoveryAttempts: 3,
		DiscoveryTimeout:  time.Second,
		SilenceTail:       5,
		FrameBuffer:       8,
		QueueCapacity:     64,
		KeepaliveInterval: 4 * time.Minute,
	}
}

// Connection представляет голосовое подключение к одному серверу.
//
// Подключение создается gateway сессией в состоянии idle и ничего
// не делает, пока Update не принесёт обе половины согласования —
// session id из voice state update и endpoint с token из voice server
// update. После этого handshake выполняется автоматически; WaitReady
// блокируется до его исхода.
type Connection struct {
	config   Config
	serverID protocol.ServerID
	userID   protocol.UserID

	stateMachine *fsm.FSM
	stateMu      sync.Mutex

	mu         sync.RWMutex
	sessionID  string
	token      string
	endpoint   string
	connecting bool
	ws         transport.FrameConn
	udp        transport.PacketConn
	ssrc       uint32
	readyErr   error

	sendMu sync.Mutex

	ssrcMu    sync.RWMutex
	ssrcUsers map[uint32]protocol.UserID

	queue *playbackQueue
	pace  *pacer

	lastAck atomic.Int64 // unix nano последнего heartbeat ack

	readyCh   chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New создает голосовое подключение в состоянии ожидания согласования
func New(config Config, serverID protocol.ServerID, userID protocol.UserID) *Connection {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 20 * time.Second
	}
	if config.DiscoveryAttempts < 1 {
		config.DiscoveryAttempts = 3
	}
	if config.DiscoveryTimeout <= 0 {
		config.DiscoveryTimeout = time.Second
	}
	if config.SilenceTail < 1 {
		config.SilenceTail = 5
	}
	if config.FrameBuffer < 1 {
		config.FrameBuffer = 8
	}
	if config.QueueCapacity < 1 {
		config.QueueCapacity = 64
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 4 * time.Minute
	}
	if config.Dial == nil {
		config.Dial = func(ctx context.Context, url string) (transport.FrameConn, error) {
			return transport.DialFrame(ctx, url)
		}
	}
	if config.DialPacket == nil {
		config.DialPacket = func(remoteAddr string) (transport.PacketConn, error) {
			cfg := transport.DefaultPacketConfig()
			cfg.RemoteAddr = remoteAddr
			return transport.DialPacket(cfg)
		}
	}

	c := &Connection{
		config:    config,
		serverID:  serverID,
		userID:    userID,
		ssrcUsers: make(map[uint32]protocol.UserID),
		queue:     newPlaybackQueue(config.QueueCapacity),
		readyCh:   make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.initStateMachine()
	return c
}

// initStateMachine инициализирует конечный автомат подключения
func (c *Connection) initStateMachine() {
	c.stateMachine = fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			// Обе половины согласования получены, начинается discovery
			{Name: "negotiate", Src: []string{string(StateIdle)}, Dst: string(StateDiscovering)},
			// Внешний адрес известен, идёт согласование шифрования
			{Name: "secure", Src: []string{string(StateDiscovering)}, Dst: string(StateHandshaking)},
			// Handshake завершён, аудио каналы работают
			{Name: "established", Src: []string{string(StateHandshaking)}, Dst: string(StateReady)},
			// Терминальное закрытие
			{Name: "close", Src: []string{
				string(StateIdle), string(StateDiscovering),
				string(StateHandshaking), string(StateReady),
			}, Dst: string(StateClosed)},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				slog.Debug("voice.connection Переход состояния",
					"server_id", c.serverID, "from", e.Src, "to", e.Dst)
			},
		},
	)
}

// transition выполняет переход конечного автомата
func (c *Connection) transition(event string) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if err := c.stateMachine.Event(context.Background(), event); err != nil {
		slog.Debug("voice.connection Переход отклонён", "event", event, "error", err)
	}
}

// State возвращает текущее состояние подключения
func (c *Connection) State() ConnectionState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return ConnectionState(c.stateMachine.Current())
}

// ServerID возвращает сервер этого подключения
func (c *Connection) ServerID() protocol.ServerID {
	return c.serverID
}

// SSRC возвращает идентификатор исходящего аудио потока
func (c *Connection) SSRC() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ssrc
}

// Update принимает голосовые события gateway сессии. Когда накоплены
// session id, token и endpoint, handshake запускается автоматически.
// Порядок прихода событий не важен.
func (c *Connection) Update(ev protocol.Event) {
	c.mu.Lock()
	switch e := ev.(type) {
	case protocol.VoiceStateUpdate:
		c.sessionID = e.SessionID
	case protocol.VoiceServerUpdate:
		c.token = e.Token
		if e.Endpoint != nil {
			// Суффикс ":80" исторический и не относится к wss транспорту
			c.endpoint = strings.TrimSuffix(*e.Endpoint, ":80")
		}
	}
	start := !c.connecting && c.sessionID != "" && c.token != "" && c.endpoint != ""
	if start {
		c.connecting = true
	}
	c.mu.Unlock()

	if start {
		c.transition("negotiate")
		c.wg.Add(1)
		go c.connect()
	}
}

// WaitReady блокируется до завершения handshake подключения.
// Подключение, умершее уже после handshake, тоже возвращает ошибку:
// готовым оно не является.
func (c *Connection) WaitReady(ctx context.Context) error {
	select {
	case <-c.readyCh:
		c.mu.RLock()
		err := c.readyErr
		c.mu.RUnlock()
		if err == nil && c.State() == StateClosed {
			return NewVoiceError(ErrorCodeConnectionClosed, c.serverID.String(),
				"подключение закрыто")
		}
		return err
	case <-ctx.Done():
		return WrapVoiceError(ErrorCodeHandshakeTimeout, c.serverID.String(),
			"подключение не установилось вовремя", ctx.Err())
	}
}

// connect выполняет полный voice handshake и запускает фоновые циклы
func (c *Connection) connect() {
	defer c.wg.Done()

	hctx, cancel := context.WithTimeout(c.ctx, c.config.HandshakeTimeout)
	defer cancel()

	if err := c.establish(hctx); err != nil {
		if hctx.Err() != nil && !HasErrorCode(err, ErrorCodeUnsupportedEncryptionMode) {
			err = WrapVoiceError(ErrorCodeHandshakeTimeout, c.serverID.String(),
				"handshake не завершился вовремя", err)
		}
		slog.Error("voice.connection Handshake не удался", "server_id", c.serverID, "error", err)
		c.mu.Lock()
		c.readyErr = err
		c.mu.Unlock()
		c.shutdown()
		return
	}

	c.transition("established")
	metricConnectionsActive.Inc()
	c.readyOnce.Do(func() { close(c.readyCh) })
	slog.Info("voice.connection Подключение установлено",
		"server_id", c.serverID, "ssrc", c.SSRC())
}

// establish проводит подключение через все шаги handshake
func (c *Connection) establish(ctx context.Context) error {
	c.mu.RLock()
	sessionID, token, endpoint := c.sessionID, c.token, c.endpoint
	c.mu.RUnlock()

	ws, err := c.config.Dial(ctx, "wss://"+endpoint)
	if err != nil {
		return WrapVoiceError(ErrorCodeTransportClosed, c.serverID.String(),
			"не удалось установить управляющий канал", err)
	}
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	frame, err := protocol.VoiceIdentify(c.serverID, c.userID, sessionID, token)
	if err != nil {
		return err
	}
	if err := ws.WriteFrame(ctx, frame); err != nil {
		return WrapVoiceError(ErrorCodeTransportClosed, c.serverID.String(),
			"не удалось отправить voice identify", err)
	}

	// Шаг 1: ждём ready с параметрами датаграммного транспорта.
	// Hello может прийти до или после ready.
	var ready protocol.VoiceReady
	var hbInterval time.Duration
	for {
		ev, err := c.readControlEvent(ctx, ws)
		if err != nil {
			return err
		}
		if hello, ok := ev.(protocol.VoiceHelloEvent); ok {
			hbInterval = hello.HeartbeatInterval
			continue
		}
		if r, ok := ev.(protocol.VoiceReadyEvent); ok {
			ready = r.Ready
			break
		}
	}
	if hbInterval <= 0 && ready.HeartbeatInterval > 0 {
		hbInterval = time.Duration(ready.HeartbeatInterval) * time.Millisecond
	}
	if hbInterval <= 0 {
		return NewVoiceError(ErrorCodeProtocolViolation, c.serverID.String(),
			"сервер не сообщил интервал heartbeat")
	}

	if !containsMode(ready.Modes, EncryptionModeSecretbox) {
		return &VoiceError{
			Code:     ErrorCodeUnsupportedEncryptionMode,
			Message:  "сервер не поддерживает ни один известный режим шифрования",
			ServerID: c.serverID.String(),
			Context:  map[string]interface{}{"modes": ready.Modes},
		}
	}

	// Шаг 2: UDP канал и IP discovery
	host := ready.IP
	if host == "" {
		host = hostnameOf(endpoint)
	}
	udp, err := c.config.DialPacket(net.JoinHostPort(host, strconv.Itoa(int(ready.Port))))
	if err != nil {
		return WrapVoiceError(ErrorCodeTransportClosed, c.serverID.String(),
			"не удалось открыть датаграммный канал", err)
	}
	c.mu.Lock()
	c.udp = udp
	c.ssrc = ready.SSRC
	c.mu.Unlock()

	address, port, err := discoverExternalAddress(ctx, udp, ready.SSRC,
		c.config.DiscoveryAttempts, c.config.DiscoveryTimeout)
	if err != nil {
		return err
	}

	// Шаг 3: выбор режима шифрования и получение ключа сессии
	c.transition("secure")
	frame, err = protocol.SelectProtocol(address, port, EncryptionModeSecretbox)
	if err != nil {
		return err
	}
	if err := ws.WriteFrame(ctx, frame); err != nil {
		return WrapVoiceError(ErrorCodeTransportClosed, c.serverID.String(),
			"не удалось отправить select protocol", err)
	}

	var cipher *cipherState
	for cipher == nil {
		ev, err := c.readControlEvent(ctx, ws)
		if err != nil {
			return err
		}
		desc, ok := ev.(protocol.VoiceSessionDescriptionEvent)
		if !ok {
			continue
		}
		if desc.Description.Mode != EncryptionModeSecretbox {
			return NewVoiceError(ErrorCodeProtocolViolation, c.serverID.String(),
				"сервер подтвердил не тот режим шифрования")
		}
		cipher = newCipherState(desc.Description.SecretKey)
	}

	// Шаг 4: фоновые циклы аудио сессии
	c.lastAck.Store(time.Now().UnixNano())
	pkt := newPacketizer(ready.SSRC, cipher)
	pace := newPacer(c.queue,
		func(frame []byte) error {
			packet, err := pkt.next(frame)
			if err != nil {
				return err
			}
			return udp.Send(packet)
		},
		c.sendSpeaking,
		c.config.SilenceTail,
		c.config.FrameBuffer,
	)
	c.mu.Lock()
	c.pace = pace
	c.mu.Unlock()

	c.wg.Add(3)
	go c.controlLoop(ws)
	go c.heartbeatLoop(hbInterval)
	go func() {
		defer c.wg.Done()
		pace.run(c.ctx)
	}()

	c.wg.Add(1)
	go c.keepaliveLoop(ready.SSRC)

	if c.config.Receiver != nil {
		c.wg.Add(1)
		go c.receiveLoop(cipher)
	}
	return nil
}

// readControlEvent читает и декодирует один кадр управляющего канала
func (c *Connection) readControlEvent(ctx context.Context, ws transport.FrameConn) (protocol.VoiceControlEvent, error) {
	data, err := ws.ReadFrame(ctx)
	if err != nil {
		return nil, WrapVoiceError(ErrorCodeTransportClosed, c.serverID.String(),
			"управляющий канал потерян", err)
	}
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		return nil, WrapVoiceError(ErrorCodeProtocolViolation, c.serverID.String(),
			"кадр управляющего канала не разобран", err)
	}
	ev, err := protocol.DecodeVoiceControlEvent(env)
	if err != nil {
		return nil, WrapVoiceError(ErrorCodeProtocolViolation, c.serverID.String(),
			"событие управляющего канала не декодировано", err)
	}
	return ev, nil
}

// controlLoop читает управляющий канал после handshake: подтверждения
// heartbeat и индикацию речи других участников
func (c *Connection) controlLoop(ws transport.FrameConn) {
	defer c.wg.Done()

	slog.Debug("voice.control Started", "server_id", c.serverID)
	defer slog.Debug("voice.control Stopped")

	for {
		ev, err := c.readControlEvent(c.ctx, ws)
		if err != nil {
			if c.ctx.Err() == nil {
				slog.Warn("voice.control Канал потерян", "server_id", c.serverID, "error", err)
				c.shutdown()
			}
			return
		}

		switch e := ev.(type) {
		case protocol.VoiceHeartbeatAckEvent:
			c.lastAck.Store(time.Now().UnixNano())

		case protocol.VoiceSpeakingEvent:
			c.ssrcMu.Lock()
			c.ssrcUsers[e.Speaking.SSRC] = e.Speaking.UserID
			c.ssrcMu.Unlock()
			if c.config.Receiver != nil {
				c.config.Receiver.SpeakingUpdate(e.Speaking.SSRC, e.Speaking.UserID, e.Speaking.Speaking)
			}

		case protocol.VoiceUnknownEvent:
			slog.Debug("voice.control Неизвестный op-код", "op", e.Op)
		}
	}
}

// heartbeatLoop отправляет heartbeat управляющего канала и следит за
// подтверждениями. Отсутствие подтверждений сверх двух интервалов
// закрывает подключение.
func (c *Connection) heartbeatLoop(interval time.Duration) {
	defer c.wg.Done()

	slog.Debug("voice.heartbeat Started", "server_id", c.serverID, "interval", interval)
	defer slog.Debug("voice.heartbeat Stopped")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sinceAck := time.Since(time.Unix(0, c.lastAck.Load()))
			if sinceAck > 2*interval {
				slog.Warn("voice.heartbeat Подтверждения не приходят, подключение закрывается",
					"server_id", c.serverID, "since_ack", sinceAck)
				c.shutdown()
				return
			}
			frame, err := protocol.VoiceHeartbeat(time.Now().UnixMilli())
			if err != nil {
				continue
			}
			if err := c.sendWS(frame); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// keepaliveLoop удерживает NAT-привязку датаграммного канала
func (c *Connection) keepaliveLoop(ssrc uint32) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.RLock()
			udp := c.udp
			c.mu.RUnlock()
			if udp == nil {
				return
			}
			if err := udp.Send(keepalivePacket(ssrc)); err != nil {
				slog.Debug("voice.keepalive Ошибка отправки", "error", err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// receiveLoop принимает, расшифровывает и доставляет входящее аудио
func (c *Connection) receiveLoop(cipher *cipherState) {
	defer c.wg.Done()

	slog.Debug("voice.receive Started", "server_id", c.serverID)
	defer slog.Debug("voice.receive Stopped")

	c.mu.RLock()
	udp := c.udp
	c.mu.RUnlock()

	for {
		data, _, err := udp.Receive(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				slog.Debug("voice.receive Канал закрыт", "error", err)
			}
			return
		}

		// Короткие датаграммы — эхо keepalive, не аудио
		if len(data) < packetHeaderSize {
			continue
		}

		frame, err := parseInbound(cipher, data)
		if err != nil {
			metricDecryptFailures.Inc()
			slog.Debug("voice.receive Пакет отброшен", "error", err)
			continue
		}
		metricPacketsReceived.Inc()
		c.config.Receiver.VoicePacket(frame.SSRC, frame.Sequence, frame.Timestamp, frame.Payload)
	}
}

// sendWS отправляет кадр в управляющий канал. Потокобезопасен.
func (c *Connection) sendWS(data []byte) error {
	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()
	if ws == nil {
		return NewVoiceError(ErrorCodeNotConnected, c.serverID.String(), "управляющий канал отсутствует")
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := ws.WriteFrame(c.ctx, data); err != nil {
		return WrapVoiceError(ErrorCodeTransportClosed, c.serverID.String(), "ошибка отправки кадра", err)
	}
	return nil
}

// sendSpeaking сигнализирует серверу смену состояния говорит/молчит
func (c *Connection) sendSpeaking(speaking bool) error {
	frame, err := protocol.Speaking(speaking)
	if err != nil {
		return err
	}
	return c.sendWS(frame)
}

// Play ставит источник в очередь воспроизведения и возвращает
// идентификатор трека
func (c *Connection) Play(source AudioSource, title string) (uuid.UUID, error) {
	return c.queue.Enqueue(source, title)
}

// PlayFile ставит в очередь аудио дорожку медиа файла, декодируемую
// внешним процессом ffmpeg
func (c *Connection) PlayFile(path string, encoder Encoder) (uuid.UUID, error) {
	source, err := NewFileSource(path, encoder)
	if err != nil {
		return uuid.Nil, err
	}
	return c.queue.Enqueue(source, path)
}

// Skip прерывает текущий трек; очередь продолжается со следующего
func (c *Connection) Skip() {
	c.mu.RLock()
	pace := c.pace
	c.mu.RUnlock()
	if pace != nil {
		pace.skipCurrent()
	}
}

// Stop прерывает текущий трек и опустошает очередь
func (c *Connection) Stop() {
	c.queue.Clear()
	c.Skip()
}

// Remove удаляет ожидающий трек из очереди по идентификатору
func (c *Connection) Remove(id uuid.UUID) bool {
	return c.queue.Remove(id)
}

// Pending возвращает число треков, ожидающих воспроизведения
func (c *Connection) Pending() int {
	return c.queue.Pending()
}

// UserForSSRC возвращает участника, привязанного к входящему потоку
func (c *Connection) UserForSSRC(ssrc uint32) (protocol.UserID, bool) {
	c.ssrcMu.RLock()
	defer c.ssrcMu.RUnlock()
	userID, ok := c.ssrcUsers[ssrc]
	return userID, ok
}

// shutdown закрывает каналы подключения и останавливает фоновые циклы
func (c *Connection) shutdown() {
	c.closeOnce.Do(func() {
		wasReady := c.State() == StateReady
		c.transition("close")
		c.cancel()

		c.mu.Lock()
		ws := c.ws
		udp := c.udp
		c.ws = nil
		c.udp = nil
		if c.readyErr == nil && !wasReady {
			c.readyErr = NewVoiceError(ErrorCodeConnectionClosed, c.serverID.String(),
				"подключение закрыто до завершения handshake")
		}
		c.mu.Unlock()

		if ws != nil {
			_ = ws.CloseWithStatus(1000, "")
			_ = ws.Close()
		}
		if udp != nil {
			_ = udp.Close()
		}
		c.queue.CloseQueue()
		c.readyOnce.Do(func() { close(c.readyCh) })
		if wasReady {
			metricConnectionsActive.Dec()
		}
	})
}

// Disconnect закрывает подключение и дожидается остановки фоновых циклов.
// Повторные вызовы безопасны.
func (c *Connection) Disconnect() error {
	slog.Debug("voice.connection Отключение", "server_id", c.serverID)
	c.shutdown()
	c.wg.Wait()
	return nil
}

// containsMode проверяет наличие режима шифрования в списке сервера
func containsMode(modes []string, mode string) bool {
	for _, m := range modes {
		if m == mode {
			return true
		}
	}
	return false
}

// hostnameOf отбрасывает порт из endpoint, если он присутствует
func hostnameOf(endpoint string) string {
	if host, _, err := net.SplitHostPort(endpoint); err == nil {
		return host
	}
	return endpoint
}
