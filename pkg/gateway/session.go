package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"

	"github.com/arzzra/chat_client/pkg/protocol"
	"github.com/arzzra/chat_client/pkg/transport"
	"github.com/arzzra/chat_client/pkg/voice"
)

// SessionState представляет состояние gateway сессии
type SessionState string

const (
	StateDisconnected SessionState = "disconnected"
	StateHandshaking  SessionState = "handshaking"
	StateConnected    SessionState = "connected"
	StateResuming     SessionState = "resuming"
	StateReconnecting SessionState = "reconnecting"
	StateClosed       SessionState = "closed"
)

// EndpointProvider выдает websocket URL gateway сервера. Получение URL —
// забота внешнего REST клиента; сессия видит только этот интерфейс.
type EndpointProvider interface {
	GatewayURL(ctx context.Context) (string, error)
}

// StaticEndpoint реализует EndpointProvider фиксированным URL
type StaticEndpoint string

// GatewayURL возвращает фиксированный URL
func (e StaticEndpoint) GatewayURL(ctx context.Context) (string, error) {
	return string(e), nil
}

// Config конфигурация gateway сессии
type Config struct {
	// Token аутентификационный токен клиента
	Token string

	// Endpoint источник websocket URL
	Endpoint EndpointProvider

	// Shard пара [номер, всего] для шардированного клиента, nil без шардирования
	Shard *[2]int

	// HandshakeTimeout ограничивает длительность полного handshake
	HandshakeTimeout time.Duration

	// EventBuffer размер буфера канала событий для потребителя
	EventBuffer int

	// Backoff параметры переподключения
	Backoff BackoffConfig

	// ResumeDelay пауза перед попыткой resume после потери соединения
	ResumeDelay time.Duration

	// Voice конфигурация голосовых подключений, создаваемых сессией
	Voice voice.Config

	// Dial фабрика кадрированного транспорта, подменяется в тестах
	Dial func(ctx context.Context, url string) (transport.FrameConn, error)
}

// DefaultConfig возвращает конфигурацию сессии по умолчанию
func DefaultConfig(token string, endpoint EndpointProvider) Config {
	return Config{
		Token:            token,
		Endpoint:         endpoint,
		HandshakeTimeout: 30 * time.Second,
		EventBuffer:      64,
		Backoff:          DefaultBackoffConfig(),
		ResumeDelay:      time.Second,
		Voice:            voice.DefaultConfig(),
	}
}

// Session представляет активную gateway сессию.
//
// Жизненный цикл: Open выполняет полный handshake и запускает фоновый
// цикл приёма. События читаются через NextEvent или Events. Потеря
// соединения обрабатывается внутри: сначала однократная попытка resume,
// затем полный handshake с экспоненциальным backoff. Терминальное
// завершение закрывает канал событий, причина доступна через Err.
//
// Поля идентичности сессии (session id, номер последовательности)
// мутируются единственным владельцем — циклом приёма. Команды
// потокобезопасны и могут вызываться из любых goroutine.
type Session struct {
	config Config

	stateMachine *fsm.FSM
	stateMu      sync.Mutex

	mu        sync.RWMutex
	conn      transport.FrameConn
	heartbeat *heartbeatScheduler
	sessionID string
	userID    protocol.UserID
	interval  time.Duration

	lastSeq    atomic.Int64
	hbTimedOut atomic.Bool

	events chan protocol.Event

	voiceMu    sync.Mutex
	voiceConns map[protocol.ServerID]*voice.Connection

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce  sync.Once
	finishOnce sync.Once
	termErr    error
}

// Open устанавливает соединение с gateway сервером и выполняет полный
// handshake: identify → hello → ready. Возвращает сессию с уже
// запущенным фоновым циклом приёма; событие Ready будет доставлено
// потребителю первым.
func Open(ctx context.Context, config Config) (*Session, error) {
	if config.Token == "" {
		return nil, NewGatewayError(ErrorCodeAuthFailed, "", "токен не задан")
	}
	if config.Endpoint == nil {
		return nil, NewGatewayError(ErrorCodeProtocolViolation, "", "endpoint не задан")
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 30 * time.Second
	}
	if config.EventBuffer < 1 {
		config.EventBuffer = 64
	}
	if config.Backoff == (BackoffConfig{}) {
		config.Backoff = DefaultBackoffConfig()
	}
	if config.ResumeDelay <= 0 {
		config.ResumeDelay = time.Second
	}
	if config.Dial == nil {
		config.Dial = func(ctx context.Context, url string) (transport.FrameConn, error) {
			return transport.DialFrame(ctx, url)
		}
	}

	s := &Session{
		config:     config,
		events:     make(chan protocol.Event, config.EventBuffer),
		voiceConns: make(map[protocol.ServerID]*voice.Connection),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.initStateMachine()

	s.transition("open")
	conn, hb, ready, err := s.handshake(ctx)
	if err != nil {
		s.cancel()
		s.transition("close")
		return nil, err
	}

	s.install(conn, hb)
	s.transition("ready")
	metricSessionsActive.Inc()

	// Ready доставляется первым: буфер канала всегда >= 1
	s.events <- ready
	metricEventsDispatched.WithLabelValues(ready.EventName()).Inc()

	s.wg.Add(1)
	go s.run()

	return s, nil
}

// initStateMachine инициализирует конечный автомат состояний сессии
func (s *Session) initStateMachine() {
	s.stateMachine = fsm.NewFSM(
		string(StateDisconnected),
		fsm.Events{
			// Начало handshake
			{Name: "open", Src: []string{string(StateDisconnected)}, Dst: string(StateHandshaking)},
			// Успешное завершение handshake, resume или reconnect
			{Name: "ready", Src: []string{string(StateHandshaking), string(StateResuming), string(StateReconnecting)}, Dst: string(StateConnected)},
			// Потеря соединения с возможностью resume
			{Name: "lost_resume", Src: []string{string(StateConnected)}, Dst: string(StateResuming)},
			// Потеря соединения с полным переподключением
			{Name: "lost_reconnect", Src: []string{string(StateConnected), string(StateResuming)}, Dst: string(StateReconnecting)},
			// Терминальное закрытие
			{Name: "close", Src: []string{
				string(StateDisconnected), string(StateHandshaking), string(StateConnected),
				string(StateResuming), string(StateReconnecting),
			}, Dst: string(StateClosed)},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				slog.Debug("gateway.session Переход состояния",
					"from", e.Src, "to", e.Dst, "event", e.Event)
			},
		},
	)
}

// transition выполняет переход конечного автомата
func (s *Session) transition(event string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if err := s.stateMachine.Event(context.Background(), event); err != nil {
		// Переход из терминального состояния невозможен, это не ошибка
		slog.Debug("gateway.session Переход отклонён", "event", event, "error", err)
	}
}

// State возвращает текущее состояние сессии
func (s *Session) State() SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return SessionState(s.stateMachine.Current())
}

// SessionID возвращает идентификатор сессии, присвоенный сервером
func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// UserID возвращает идентификатор аутентифицированного участника
func (s *Session) UserID() protocol.UserID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// LastSeq возвращает последний обработанный номер последовательности
func (s *Session) LastSeq() int64 {
	return s.lastSeq.Load()
}

// Events возвращает канал событий сессии. Канал закрывается при
// терминальном завершении; причина доступна через Err.
func (s *Session) Events() <-chan protocol.Event {
	return s.events
}

// NextEvent блокируется до следующего события сессии.
// После терминального завершения возвращает его причину.
func (s *Session) NextEvent(ctx context.Context) (protocol.Event, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return nil, s.Err()
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err возвращает причину терминального завершения сессии или nil,
// пока сессия активна.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.termErr
}

// Close завершает сессию: закрывает голосовые подключения, отправляет
// протокольное закрытие и останавливает фоновые циклы. Повторные вызовы
// безопасны.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		slog.Debug("gateway.session Закрытие", "session_id", s.SessionID())
		s.disconnectAllVoice()
		s.cancel()

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn != nil {
			_ = conn.CloseWithStatus(1000, "")
		}
		s.wg.Wait()
	})
	return nil
}

// install фиксирует новое соединение и запускает его heartbeat
func (s *Session) install(conn transport.FrameConn, hb *heartbeatScheduler) {
	s.mu.Lock()
	s.conn = conn
	s.heartbeat = hb
	s.mu.Unlock()
	hb.Start(s.ctx)
}

// currentConn возвращает активное соединение
func (s *Session) currentConn() transport.FrameConn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// sendFrame отправляет кадр в активное соединение
func (s *Session) sendFrame(data []byte) error {
	conn := s.currentConn()
	if conn == nil {
		return NewGatewayError(ErrorCodeSessionClosed, s.SessionID(), "соединение отсутствует")
	}
	if err := conn.WriteFrame(s.ctx, data); err != nil {
		return WrapGatewayError(ErrorCodeTransportClosed, s.SessionID(), "ошибка отправки кадра", err)
	}
	return nil
}

// sendHeartbeat отправляет heartbeat с последним номером последовательности
func (s *Session) sendHeartbeat() error {
	frame, err := protocol.Heartbeat(s.lastSeq.Load())
	if err != nil {
		return err
	}
	return s.sendFrame(frame)
}

// newHeartbeat создает планировщик heartbeat для нового соединения
func (s *Session) newHeartbeat(interval time.Duration) *heartbeatScheduler {
	return newHeartbeatScheduler(interval, s.sendHeartbeat, func() {
		// Мёртвое соединение роняем через транспорт: цикл приёма
		// увидит ошибку чтения и запустит восстановление
		s.hbTimedOut.Store(true)
		if conn := s.currentConn(); conn != nil {
			_ = conn.Close()
		}
	})
}

// gatewayURL дополняет базовый URL параметрами версии протокола
func gatewayURL(base string) string {
	if strings.Contains(base, "?") {
		return base
	}
	return fmt.Sprintf("%s?v=%d&encoding=json", base, protocol.GatewayVersion)
}

// handshake выполняет полный handshake: identify → hello → ready.
// Обновляет идентичность сессии и возвращает готовое соединение с
// ещё не запущенным планировщиком heartbeat.
func (s *Session) handshake(ctx context.Context) (transport.FrameConn, *heartbeatScheduler, protocol.Ready, error) {
	var none protocol.Ready

	hctx, cancel := context.WithTimeout(ctx, s.config.HandshakeTimeout)
	defer cancel()

	base, err := s.config.Endpoint.GatewayURL(hctx)
	if err != nil {
		return nil, nil, none, WrapGatewayError(ErrorCodeTransportClosed, "", "не удалось получить gateway URL", err)
	}

	conn, err := s.config.Dial(hctx, gatewayURL(base))
	if err != nil {
		if hctx.Err() != nil {
			return nil, nil, none, WrapGatewayError(ErrorCodeHandshakeTimeout, "", "таймаут установки соединения", err)
		}
		return nil, nil, none, WrapGatewayError(ErrorCodeTransportClosed, "", "не удалось установить соединение", err)
	}

	frame, err := protocol.Identify(s.config.Token, s.config.Shard)
	if err != nil {
		conn.Close()
		return nil, nil, none, err
	}
	if err := conn.WriteFrame(hctx, frame); err != nil {
		conn.Close()
		return nil, nil, none, WrapGatewayError(ErrorCodeTransportClosed, "", "не удалось отправить identify", err)
	}

	var interval time.Duration
	identifyResent := false

	for {
		ev, err := s.readEvent(hctx, conn)
		if err != nil {
			conn.Close()
			if hctx.Err() != nil && !IsFatalError(err) {
				return nil, nil, none, WrapGatewayError(ErrorCodeHandshakeTimeout, "", "handshake не завершился вовремя", err)
			}
			return nil, nil, none, err
		}

		switch e := ev.(type) {
		case protocol.Hello:
			interval = e.HeartbeatInterval

		case protocol.Dispatch:
			ready, ok := e.Event.(protocol.Ready)
			if !ok {
				// Сервер не отправляет других событий до ready,
				// но на всякий случай их просто пропускаем
				continue
			}
			if interval <= 0 {
				conn.Close()
				return nil, nil, none, NewGatewayError(ErrorCodeProtocolViolation, ready.SessionID, "ready получен до hello")
			}
			s.mu.Lock()
			s.sessionID = ready.SessionID
			s.userID = ready.User.ID
			s.interval = interval
			s.mu.Unlock()
			s.lastSeq.Store(e.Seq)
			slog.Info("gateway.session Handshake завершён",
				"session_id", ready.SessionID, "user_id", ready.User.ID, "heartbeat_interval", interval)
			return conn, s.newHeartbeat(interval), ready, nil

		case protocol.HeartbeatRequest:
			if frame, err := protocol.Heartbeat(0); err == nil {
				_ = conn.WriteFrame(hctx, frame)
			}

		case protocol.InvalidSession:
			if identifyResent {
				conn.Close()
				return nil, nil, none, NewGatewayError(ErrorCodeHandshakeRejected, "", "сервер повторно отклонил identify")
			}
			identifyResent = true
			slog.Debug("gateway.session Identify отклонён, повторная попытка")
			if err := conn.WriteFrame(hctx, frame); err != nil {
				conn.Close()
				return nil, nil, none, WrapGatewayError(ErrorCodeTransportClosed, "", "не удалось повторить identify", err)
			}

		default:
			// Hello дубликаты, ack и неизвестные op-коды в handshake не участвуют
		}
	}
}

// resumeHandshake выполняет resume существующей сессии. Возвращает
// соединение и первое dispatch событие реплея (либо маркер Resumed),
// которое обрабатывается как обычное событие активного соединения.
func (s *Session) resumeHandshake(ctx context.Context) (transport.FrameConn, *heartbeatScheduler, protocol.Dispatch, error) {
	var none protocol.Dispatch

	hctx, cancel := context.WithTimeout(ctx, s.config.HandshakeTimeout)
	defer cancel()

	s.mu.RLock()
	sessionID := s.sessionID
	interval := s.interval
	s.mu.RUnlock()

	base, err := s.config.Endpoint.GatewayURL(hctx)
	if err != nil {
		return nil, nil, none, WrapGatewayError(ErrorCodeTransportClosed, sessionID, "не удалось получить gateway URL", err)
	}

	conn, err := s.config.Dial(hctx, gatewayURL(base))
	if err != nil {
		return nil, nil, none, WrapGatewayError(ErrorCodeTransportClosed, sessionID, "не удалось установить соединение", err)
	}

	frame, err := protocol.Resume(s.config.Token, sessionID, s.lastSeq.Load())
	if err != nil {
		conn.Close()
		return nil, nil, none, err
	}
	if err := conn.WriteFrame(hctx, frame); err != nil {
		conn.Close()
		return nil, nil, none, WrapGatewayError(ErrorCodeTransportClosed, sessionID, "не удалось отправить resume", err)
	}

	for {
		ev, err := s.readEvent(hctx, conn)
		if err != nil {
			conn.Close()
			if hctx.Err() != nil && !IsFatalError(err) {
				return nil, nil, none, WrapGatewayError(ErrorCodeHandshakeTimeout, sessionID, "resume не завершился вовремя", err)
			}
			return nil, nil, none, err
		}

		switch e := ev.(type) {
		case protocol.Hello:
			interval = e.HeartbeatInterval
			s.mu.Lock()
			s.interval = interval
			s.mu.Unlock()

		case protocol.InvalidSession:
			conn.Close()
			return nil, nil, none, NewGatewayError(ErrorCodeSessionInvalid, sessionID, "сервер отклонил resume")

		case protocol.Reconnect:
			conn.Close()
			return nil, nil, none, NewGatewayError(ErrorCodeSessionInvalid, sessionID, "сервер требует полного переподключения")

		case protocol.Dispatch:
			// Первое dispatch событие после resume: либо начало реплея,
			// либо маркер Resumed. Обработку (контроль номера
			// последовательности, маршрутизацию) выполняет общий путь
			// handleDispatch; остальной реплей дочитает цикл приёма.
			slog.Info("gateway.session Resume завершён", "session_id", sessionID, "first_event", e.Event.EventName())
			return conn, s.newHeartbeat(interval), e, nil

		default:
		}
	}
}

// readEvent читает и декодирует один кадр соединения
func (s *Session) readEvent(ctx context.Context, conn transport.FrameConn) (protocol.GatewayEvent, error) {
	data, err := conn.ReadFrame(ctx)
	if err != nil {
		return nil, s.classifyDisconnect(err)
	}
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		return nil, WrapGatewayError(ErrorCodeDecodeFailed, s.SessionID(), "кадр не разобран", err)
	}
	ev, err := protocol.DecodeGatewayEvent(env)
	if err != nil {
		return nil, WrapGatewayError(ErrorCodeDecodeFailed, s.SessionID(), "событие не декодировано", err)
	}
	return ev, nil
}

// classifyDisconnect превращает ошибку чтения в типизированную причину
// потери соединения
func (s *Session) classifyDisconnect(err error) *GatewayError {
	if s.hbTimedOut.Swap(false) {
		return WrapGatewayError(ErrorCodeHeartbeatTimeout, s.SessionID(), "сервер не подтверждает heartbeat", err)
	}

	var closeErr *transport.CloseError
	if errors.As(err, &closeErr) {
		gwErr := WrapGatewayError(ErrorCodeTransportClosed, s.SessionID(),
			fmt.Sprintf("соединение закрыто сервером: %d", closeErr.Code), err)
		if closeErr.Code == closeCodeAuthFailed {
			gwErr.Code = ErrorCodeAuthFailed
			gwErr.Message = "сервер отклонил токен"
		}
		gwErr.Context = map[string]interface{}{"close_code": closeErr.Code}
		return gwErr
	}

	return WrapGatewayError(ErrorCodeTransportClosed, s.SessionID(), "соединение потеряно", err)
}

// run — основной цикл приёма сессии. Владеет соединением, идентичностью
// сессии и восстановлением после потери соединения.
func (s *Session) run() {
	defer s.wg.Done()

	slog.Debug("gateway.session Цикл приёма Started", "session_id", s.SessionID())
	defer slog.Debug("gateway.session Цикл приёма Stopped")

	for {
		conn := s.currentConn()
		ev, err := s.readEvent(s.ctx, conn)
		if err != nil {
			if s.ctx.Err() != nil {
				s.finish(NewGatewayError(ErrorCodeSessionClosed, s.SessionID(), "сессия закрыта"))
				return
			}
			var gwErr *GatewayError
			if !errors.As(err, &gwErr) {
				gwErr = WrapGatewayError(ErrorCodeTransportClosed, s.SessionID(), "соединение потеряно", err)
			}
			// Нарушение протокола фатально для соединения, но сессия
			// восстанавливается полным переподключением
			if !s.recover(gwErr) {
				return
			}
			continue
		}

		if err := s.handleEvent(ev); err != nil {
			var gwErr *GatewayError
			if !errors.As(err, &gwErr) {
				gwErr = WrapGatewayError(ErrorCodeProtocolViolation, s.SessionID(), "ошибка обработки события", err)
			}
			if !s.recover(gwErr) {
				return
			}
		}
	}
}

// handleEvent обрабатывает одно декодированное событие активного
// соединения. Возвращаемая ошибка роняет соединение и запускает
// восстановление.
func (s *Session) handleEvent(ev protocol.GatewayEvent) error {
	switch e := ev.(type) {
	case protocol.Dispatch:
		return s.handleDispatch(e)

	case protocol.HeartbeatAck:
		s.mu.RLock()
		hb := s.heartbeat
		s.mu.RUnlock()
		if hb != nil {
			hb.Ack()
		}

	case protocol.HeartbeatRequest:
		return s.sendHeartbeat()

	case protocol.Hello:
		// Запоздавший hello: интервал пригодится следующему соединению
		s.mu.Lock()
		s.interval = e.HeartbeatInterval
		s.mu.Unlock()

	case protocol.Reconnect:
		slog.Info("gateway.session Сервер запросил переподключение", "session_id", s.SessionID())
		return NewGatewayError(ErrorCodeTransportClosed, s.SessionID(), "сервер запросил переподключение")

	case protocol.InvalidSession:
		if e.Resumable {
			return NewGatewayError(ErrorCodeTransportClosed, s.SessionID(), "сессия сброшена, допустим resume")
		}
		return NewGatewayError(ErrorCodeSessionInvalid, s.SessionID(), "сессия недействительна")

	case protocol.UnknownOp:
		slog.Debug("gateway.session Неизвестный op-код", "op", e.Op)
	}
	return nil
}

// handleDispatch обрабатывает dispatch событие: контроль номера
// последовательности, маршрутизация голосовых событий и доставка
// потребителю.
func (s *Session) handleDispatch(d protocol.Dispatch) error {
	if d.Seq != 0 {
		last := s.lastSeq.Load()
		if d.Seq <= last {
			// Дубликат или устаревшее событие отбрасывается молча
			metricEventsDiscarded.Inc()
			slog.Debug("gateway.session Событие отброшено по номеру последовательности",
				"seq", d.Seq, "last_seq", last, "event", d.Event.EventName())
			return nil
		}
		s.lastSeq.Store(d.Seq)
	}

	switch ev := d.Event.(type) {
	case protocol.Ready:
		s.mu.Lock()
		s.sessionID = ev.SessionID
		s.userID = ev.User.ID
		s.mu.Unlock()
	case protocol.VoiceStateUpdate, protocol.VoiceServerUpdate:
		s.routeVoiceEvent(d.Event)
	}

	s.deliver(d.Event)
	return nil
}

// deliver передаёт событие потребителю, уважая закрытие сессии
func (s *Session) deliver(ev protocol.Event) {
	select {
	case s.events <- ev:
		metricEventsDispatched.WithLabelValues(ev.EventName()).Inc()
	case <-s.ctx.Done():
	}
}

// recover восстанавливает сессию после потери соединения.
// Возвращает false, когда сессия завершена терминально.
func (s *Session) recover(cause *GatewayError) bool {
	s.mu.Lock()
	hb := s.heartbeat
	conn := s.conn
	s.heartbeat = nil
	s.mu.Unlock()

	if hb != nil {
		hb.Stop()
	}
	if conn != nil {
		_ = conn.Close()
	}

	if IsFatalError(cause) {
		s.finish(cause)
		return false
	}

	slog.Info("gateway.session Соединение потеряно",
		"session_id", s.SessionID(), "cause", cause.Code.String(), "error", cause)

	// Сначала однократная попытка resume, если сервер сохранил сессию
	if s.SessionID() != "" && IsResumableClose(cause) {
		s.transition("lost_resume")
		if !s.sleep(s.config.ResumeDelay) {
			s.finish(NewGatewayError(ErrorCodeSessionClosed, s.SessionID(), "сессия закрыта"))
			return false
		}

		newConn, newHB, first, err := s.resumeHandshake(s.ctx)
		if err == nil {
			s.install(newConn, newHB)
			s.transition("ready")
			metricResumes.WithLabelValues("success").Inc()
			// Первое событие реплея идёт общим путём: контроль номера
			// последовательности и маршрутизация голосовых событий
			if err := s.handleDispatch(first); err != nil {
				slog.Warn("gateway.session Ошибка обработки первого события реплея", "error", err)
			}
			return true
		}
		metricResumes.WithLabelValues("failed").Inc()
		if IsFatalError(err) {
			s.finish(err)
			return false
		}
		slog.Info("gateway.session Resume не удался, полное переподключение",
			"session_id", s.SessionID(), "error", err)
	}

	// Сессия на сервере потеряна: идентичность сбрасывается
	s.mu.Lock()
	s.sessionID = ""
	s.mu.Unlock()
	s.lastSeq.Store(0)

	s.transition("lost_reconnect")
	b := newBackoff(s.config.Backoff)
	for {
		delay, ok := b.Next()
		if !ok {
			s.finish(WrapGatewayError(ErrorCodeReconnectExhausted, "",
				fmt.Sprintf("попытки переподключения исчерпаны после %d", b.Attempt()), cause))
			return false
		}
		if !s.sleep(delay) {
			s.finish(NewGatewayError(ErrorCodeSessionClosed, "", "сессия закрыта"))
			return false
		}

		metricReconnects.Inc()
		slog.Info("gateway.session Попытка переподключения", "attempt", b.Attempt(), "delay", delay)

		newConn, newHB, ready, err := s.handshake(s.ctx)
		if err != nil {
			if IsFatalError(err) {
				s.finish(err)
				return false
			}
			slog.Warn("gateway.session Переподключение не удалось", "attempt", b.Attempt(), "error", err)
			continue
		}

		s.install(newConn, newHB)
		s.transition("ready")
		s.deliver(ready)
		return true
	}
}

// sleep ждёт указанное время, прерываясь закрытием сессии
func (s *Session) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// finish фиксирует терминальное завершение сессии
func (s *Session) finish(err error) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.termErr = err
		hb := s.heartbeat
		conn := s.conn
		s.heartbeat = nil
		s.conn = nil
		s.mu.Unlock()

		if hb != nil {
			hb.Stop()
		}
		if conn != nil {
			_ = conn.Close()
		}
		s.disconnectAllVoice()
		s.transition("close")
		s.cancel()
		close(s.events)
		metricSessionsActive.Dec()

		if !HasErrorCode(err, ErrorCodeSessionClosed) {
			slog.Error("gateway.session Терминальное завершение", "error", err)
		}
	})
}
