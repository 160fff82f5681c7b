package protocol

import (
	"encoding/json"
	"fmt"
)

// GatewayOp определяет op-код конверта gateway канала
type GatewayOp int

// Op-коды gateway канала. Значения фиксированы протоколом платформы.
const (
	OpDispatch         GatewayOp = 0  // сервер: событие с номером последовательности
	OpHeartbeat        GatewayOp = 1  // клиент/сервер: сигнал живости
	OpIdentify         GatewayOp = 2  // клиент: начальный handshake
	OpStatusUpdate     GatewayOp = 3  // клиент: обновление присутствия
	OpVoiceStateUpdate GatewayOp = 4  // клиент: вход/выход из голосового канала
	OpResume           GatewayOp = 6  // клиент: переподключение к сессии
	OpReconnect        GatewayOp = 7  // сервер: требование переподключиться
	OpRequestMembers   GatewayOp = 8  // клиент: запрос списка участников
	OpInvalidSession   GatewayOp = 9  // сервер: сессия недействительна
	OpHello            GatewayOp = 10 // сервер: интервал heartbeat
	OpHeartbeatAck     GatewayOp = 11 // сервер: подтверждение heartbeat
)

// String возвращает имя op-кода для логов
func (op GatewayOp) String() string {
	switch op {
	case OpDispatch:
		return "Dispatch"
	case OpHeartbeat:
		return "Heartbeat"
	case OpIdentify:
		return "Identify"
	case OpStatusUpdate:
		return "StatusUpdate"
	case OpVoiceStateUpdate:
		return "VoiceStateUpdate"
	case OpResume:
		return "Resume"
	case OpReconnect:
		return "Reconnect"
	case OpRequestMembers:
		return "RequestMembers"
	case OpInvalidSession:
		return "InvalidSession"
	case OpHello:
		return "Hello"
	case OpHeartbeatAck:
		return "HeartbeatAck"
	default:
		return fmt.Sprintf("Unknown(%d)", int(op))
	}
}

// VoiceOp определяет op-код конверта voice управляющего канала
type VoiceOp int

// Op-коды voice канала. Нумерация отличается от gateway канала.
const (
	VoiceOpIdentify           VoiceOp = 0 // клиент: начало voice handshake
	VoiceOpSelectProtocol     VoiceOp = 1 // клиент: выбор транспорта и режима шифрования
	VoiceOpReady              VoiceOp = 2 // сервер: ssrc, порт и доступные режимы
	VoiceOpHeartbeat          VoiceOp = 3 // клиент: сигнал живости
	VoiceOpSessionDescription VoiceOp = 4 // сервер: согласованный режим и секретный ключ
	VoiceOpSpeaking           VoiceOp = 5 // клиент/сервер: индикация речи
	VoiceOpHeartbeatAck       VoiceOp = 6 // сервер: подтверждение heartbeat
	VoiceOpResume             VoiceOp = 7 // клиент: переподключение voice сессии
	VoiceOpHello              VoiceOp = 8 // сервер: интервал heartbeat
	VoiceOpResumed            VoiceOp = 9 // сервер: подтверждение resume
)

// Envelope представляет общий конверт обоих управляющих каналов:
// {op, d, s, t}. Поля s и t присутствуют только у dispatch-событий
// gateway канала.
type Envelope struct {
	Op       int             `json:"op"`
	Data     json.RawMessage `json:"d,omitempty"`
	Sequence *int64          `json:"s,omitempty"`
	Type     string          `json:"t,omitempty"`
}

// ParseEnvelope разбирает сырой кадр в конверт.
// Возвращает *DecodeError если кадр не является JSON-объектом конверта.
func ParseEnvelope(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, &DecodeError{
			Reason:  "кадр не является конвертом",
			Raw:     frame,
			Wrapped: err,
		}
	}
	return &env, nil
}

// Seq возвращает номер последовательности конверта или 0, если он отсутствует
func (e *Envelope) Seq() int64 {
	if e.Sequence == nil {
		return 0
	}
	return *e.Sequence
}

// command строит исходящий конверт с указанным op-кодом и payload
func command(op int, d interface{}) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации payload op=%d: %w", op, err)
	}
	return json.Marshal(Envelope{Op: op, Data: data})
}

// DecodeError описывает ошибку декодирования конверта или payload
// известного события. Для gateway сессии такая ошибка фатальна для
// текущего соединения (протокол нарушен), но не для процесса.
type DecodeError struct {
	Op      int    // op-код конверта, если удалось разобрать
	Name    string // имя события для dispatch конвертов
	Reason  string
	Raw     json.RawMessage
	Wrapped error
}

// Error реализует интерфейс error
func (e *DecodeError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("[протокол] событие %s (op=%d): %s", e.Name, e.Op, e.Reason)
	}
	return fmt.Sprintf("[протокол] op=%d: %s", e.Op, e.Reason)
}

// Unwrap возвращает обёрнутую ошибку, поддерживая errors.Unwrap
func (e *DecodeError) Unwrap() error {
	return e.Wrapped
}
