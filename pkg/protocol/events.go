package protocol

import (
	"encoding/json"
	"time"
)

// GatewayEvent представляет декодированный кадр gateway канала.
// Это закрытый sum-тип: все варианты перечислены в этом файле.
type GatewayEvent interface {
	isGatewayEvent()
}

// Hello — первый управляющий кадр соединения, несёт интервал heartbeat
type Hello struct {
	HeartbeatInterval time.Duration
}

// Dispatch — событие с номером последовательности
type Dispatch struct {
	Seq   int64
	Event Event
}

// HeartbeatRequest — сервер требует немедленный heartbeat
type HeartbeatRequest struct {
	Seq int64
}

// HeartbeatAck — подтверждение heartbeat
type HeartbeatAck struct{}

// Reconnect — сервер требует переподключения
type Reconnect struct{}

// InvalidSession — сессия недействительна.
// Resumable указывает, допустим ли resume вместо полного handshake.
type InvalidSession struct {
	Resumable bool
}

// UnknownOp — кадр с неизвестным op-кодом. Логируется и игнорируется.
type UnknownOp struct {
	Op  int
	Raw json.RawMessage
}

func (Hello) isGatewayEvent()            {}
func (Dispatch) isGatewayEvent()         {}
func (HeartbeatRequest) isGatewayEvent() {}
func (HeartbeatAck) isGatewayEvent()     {}
func (Reconnect) isGatewayEvent()        {}
func (InvalidSession) isGatewayEvent()   {}
func (UnknownOp) isGatewayEvent()        {}

// helloPayload — payload кадра OpHello
type helloPayload struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// DecodeGatewayEvent декодирует конверт gateway канала в GatewayEvent.
// Декодирование тотально: неизвестные op-коды возвращаются как UnknownOp,
// искажённый payload известного op-кода возвращает *DecodeError.
func DecodeGatewayEvent(env *Envelope) (GatewayEvent, error) {
	switch GatewayOp(env.Op) {
	case OpDispatch:
		ev, err := DecodeDispatch(env.Type, env.Data)
		if err != nil {
			return nil, err
		}
		return Dispatch{Seq: env.Seq(), Event: ev}, nil

	case OpHello:
		var p helloPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.HeartbeatInterval <= 0 {
			return nil, &DecodeError{
				Op:      env.Op,
				Reason:  "hello без валидного heartbeat_interval",
				Raw:     env.Data,
				Wrapped: err,
			}
		}
		return Hello{HeartbeatInterval: time.Duration(p.HeartbeatInterval) * time.Millisecond}, nil

	case OpHeartbeat:
		var seq int64
		// payload может быть null на свежем соединении
		_ = json.Unmarshal(env.Data, &seq)
		return HeartbeatRequest{Seq: seq}, nil

	case OpHeartbeatAck:
		return HeartbeatAck{}, nil

	case OpReconnect:
		return Reconnect{}, nil

	case OpInvalidSession:
		var resumable bool
		_ = json.Unmarshal(env.Data, &resumable)
		return InvalidSession{Resumable: resumable}, nil

	default:
		return UnknownOp{Op: env.Op, Raw: env.Data}, nil
	}
}

// Event представляет декодированное dispatch-событие.
// Неизвестные имена событий возвращаются вариантом Unknown —
// набор открыт для расширения протокола без потери данных.
type Event interface {
	// EventName возвращает имя события на проводе (например "MESSAGE_CREATE")
	EventName() string
}

// User — участник платформы в составе событий
type User struct {
	ID            UserID `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	Bot           bool   `json:"bot"`
}

// Ready — первое событие каждой свежей сессии, несёт её идентичность
type Ready struct {
	Version   int    `json:"v"`
	User      User   `json:"user"`
	SessionID string `json:"session_id"`
}

// Resumed — подтверждение успешного resume. Для потребителя служит
// маркером восстановления соединения: после него идут только новые события.
type Resumed struct {
	Trace []string `json:"_trace"`
}

// MessageCreate — новое сообщение в канале
type MessageCreate struct {
	ID        MessageID `json:"id"`
	ChannelID ChannelID `json:"channel_id"`
	Author    User      `json:"author"`
	Content   string    `json:"content"`
	Timestamp string    `json:"timestamp"`
}

// MessageUpdate — сообщение отредактировано
type MessageUpdate struct {
	ID        MessageID `json:"id"`
	ChannelID ChannelID `json:"channel_id"`
	Content   string    `json:"content"`
}

// MessageDelete — сообщение удалено
type MessageDelete struct {
	ID        MessageID `json:"id"`
	ChannelID ChannelID `json:"channel_id"`
}

// TypingStart — участник начал печатать
type TypingStart struct {
	ChannelID ChannelID `json:"channel_id"`
	UserID    UserID    `json:"user_id"`
	Timestamp int64     `json:"timestamp"`
}

// PresenceUpdate — изменение присутствия участника
type PresenceUpdate struct {
	ServerID ServerID    `json:"guild_id"`
	User     User        `json:"user"`
	Status   string      `json:"status"`
	Roles    []Snowflake `json:"roles"`
}

// VoiceStateUpdate — изменение голосового состояния участника.
// ChannelID == nil означает выход из голосового канала.
type VoiceStateUpdate struct {
	ServerID  ServerID   `json:"guild_id"`
	UserID    UserID     `json:"user_id"`
	ChannelID *ChannelID `json:"channel_id"`
	SessionID string     `json:"session_id"`
	SelfMute  bool       `json:"self_mute"`
	SelfDeaf  bool       `json:"self_deaf"`
	Mute      bool       `json:"mute"`
	Deaf      bool       `json:"deaf"`
	Suppress  bool       `json:"suppress"`
}

// VoiceServerUpdate — сервер назначил voice endpoint для сессии.
// Endpoint == nil означает, что endpoint временно недоступен.
type VoiceServerUpdate struct {
	ServerID ServerID `json:"guild_id"`
	Token    string   `json:"token"`
	Endpoint *string  `json:"endpoint"`
}

// Channel — текстовый или голосовой канал
type Channel struct {
	ID       ChannelID `json:"id"`
	ServerID ServerID  `json:"guild_id"`
	Name     string    `json:"name"`
	Type     int       `json:"type"`
	Topic    string    `json:"topic"`
}

// ChannelCreate — канал создан
type ChannelCreate struct{ Channel }

// ChannelUpdate — канал изменён
type ChannelUpdate struct{ Channel }

// ChannelDelete — канал удалён
type ChannelDelete struct{ Channel }

// Server — сервер (guild) платформы
type Server struct {
	ID      ServerID `json:"id"`
	Name    string   `json:"name"`
	OwnerID UserID   `json:"owner_id"`
}

// ServerCreate — сервер стал доступен
type ServerCreate struct{ Server }

// ServerUpdate — сервер изменён
type ServerUpdate struct{ Server }

// ServerDelete — сервер стал недоступен
type ServerDelete struct{ Server }

// Unknown — событие с именем, не известным этой версии клиента.
// Сырой payload сохраняется для потребителей, умеющих его разобрать.
type Unknown struct {
	Name string
	Raw  json.RawMessage
}

func (Ready) EventName() string             { return "READY" }
func (Resumed) EventName() string           { return "RESUMED" }
func (MessageCreate) EventName() string     { return "MESSAGE_CREATE" }
func (MessageUpdate) EventName() string     { return "MESSAGE_UPDATE" }
func (MessageDelete) EventName() string     { return "MESSAGE_DELETE" }
func (TypingStart) EventName() string       { return "TYPING_START" }
func (PresenceUpdate) EventName() string    { return "PRESENCE_UPDATE" }
func (VoiceStateUpdate) EventName() string  { return "VOICE_STATE_UPDATE" }
func (VoiceServerUpdate) EventName() string { return "VOICE_SERVER_UPDATE" }
func (ChannelCreate) EventName() string     { return "CHANNEL_CREATE" }
func (ChannelUpdate) EventName() string     { return "CHANNEL_UPDATE" }
func (ChannelDelete) EventName() string     { return "CHANNEL_DELETE" }
func (ServerCreate) EventName() string      { return "GUILD_CREATE" }
func (ServerUpdate) EventName() string      { return "GUILD_UPDATE" }
func (ServerDelete) EventName() string      { return "GUILD_DELETE" }
func (e Unknown) EventName() string         { return e.Name }

// decodeAs декодирует payload в конкретный тип события
func decodeAs[T Event](name string, data json.RawMessage) (Event, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, &DecodeError{
			Op:      int(OpDispatch),
			Name:    name,
			Reason:  "искажённый payload события",
			Raw:     data,
			Wrapped: err,
		}
	}
	return ev, nil
}

// DecodeDispatch декодирует payload dispatch-события по его имени.
// Имя, не известное этой версии клиента, возвращается вариантом Unknown.
// Искажённый payload известного имени возвращает *DecodeError.
func DecodeDispatch(name string, data json.RawMessage) (Event, error) {
	switch name {
	case "READY":
		ev, err := decodeAs[Ready](name, data)
		if err != nil {
			return nil, err
		}
		if ev.(Ready).SessionID == "" {
			return nil, &DecodeError{
				Op:     int(OpDispatch),
				Name:   name,
				Reason: "ready без session_id",
				Raw:    data,
			}
		}
		return ev, nil
	case "RESUMED":
		return decodeAs[Resumed](name, data)
	case "MESSAGE_CREATE":
		return decodeAs[MessageCreate](name, data)
	case "MESSAGE_UPDATE":
		return decodeAs[MessageUpdate](name, data)
	case "MESSAGE_DELETE":
		return decodeAs[MessageDelete](name, data)
	case "TYPING_START":
		return decodeAs[TypingStart](name, data)
	case "PRESENCE_UPDATE":
		return decodeAs[PresenceUpdate](name, data)
	case "VOICE_STATE_UPDATE":
		return decodeAs[VoiceStateUpdate](name, data)
	case "VOICE_SERVER_UPDATE":
		return decodeAs[VoiceServerUpdate](name, data)
	case "CHANNEL_CREATE":
		return decodeAs[ChannelCreate](name, data)
	case "CHANNEL_UPDATE":
		return decodeAs[ChannelUpdate](name, data)
	case "CHANNEL_DELETE":
		return decodeAs[ChannelDelete](name, data)
	case "GUILD_CREATE":
		return decodeAs[ServerCreate](name, data)
	case "GUILD_UPDATE":
		return decodeAs[ServerUpdate](name, data)
	case "GUILD_DELETE":
		return decodeAs[ServerDelete](name, data)
	default:
		return Unknown{Name: name, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

// VoiceControlEvent представляет декодированный кадр voice управляющего канала
type VoiceControlEvent interface {
	isVoiceControlEvent()
}

// VoiceReadyEvent — сервер сообщил параметры датаграммного транспорта
type VoiceReadyEvent struct {
	Ready VoiceReady
}

// VoiceHelloEvent — интервал heartbeat voice канала
type VoiceHelloEvent struct {
	HeartbeatInterval time.Duration
}

// VoiceSessionDescriptionEvent — согласованный режим и секретный ключ
type VoiceSessionDescriptionEvent struct {
	Description SessionDescription
}

// VoiceSpeakingEvent — другой участник начал или закончил говорить
type VoiceSpeakingEvent struct {
	Speaking VoiceSpeaking
}

// VoiceHeartbeatAckEvent — подтверждение heartbeat voice канала
type VoiceHeartbeatAckEvent struct{}

// VoiceUnknownEvent — кадр с op-кодом, не известным этой версии клиента
type VoiceUnknownEvent struct {
	Op  int
	Raw json.RawMessage
}

func (VoiceReadyEvent) isVoiceControlEvent()              {}
func (VoiceHelloEvent) isVoiceControlEvent()              {}
func (VoiceSessionDescriptionEvent) isVoiceControlEvent() {}
func (VoiceSpeakingEvent) isVoiceControlEvent()           {}
func (VoiceHeartbeatAckEvent) isVoiceControlEvent()       {}
func (VoiceUnknownEvent) isVoiceControlEvent()            {}

// DecodeVoiceControlEvent декодирует конверт voice управляющего канала.
// Как и DecodeGatewayEvent, декодирование тотально.
func DecodeVoiceControlEvent(env *Envelope) (VoiceControlEvent, error) {
	switch VoiceOp(env.Op) {
	case VoiceOpReady:
		var p VoiceReady
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, &DecodeError{
				Op:      env.Op,
				Reason:  "искажённый voice ready payload",
				Raw:     env.Data,
				Wrapped: err,
			}
		}
		return VoiceReadyEvent{Ready: p}, nil

	case VoiceOpHello:
		var p VoiceHello
		if err := json.Unmarshal(env.Data, &p); err != nil || p.HeartbeatInterval <= 0 {
			return nil, &DecodeError{
				Op:      env.Op,
				Reason:  "voice hello без валидного heartbeat_interval",
				Raw:     env.Data,
				Wrapped: err,
			}
		}
		return VoiceHelloEvent{
			HeartbeatInterval: time.Duration(p.HeartbeatInterval * float64(time.Millisecond)),
		}, nil

	case VoiceOpSessionDescription:
		var p SessionDescription
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, &DecodeError{
				Op:      env.Op,
				Reason:  "искажённый session description payload",
				Raw:     env.Data,
				Wrapped: err,
			}
		}
		return VoiceSessionDescriptionEvent{Description: p}, nil

	case VoiceOpSpeaking:
		var p VoiceSpeaking
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, &DecodeError{
				Op:      env.Op,
				Reason:  "искажённый speaking payload",
				Raw:     env.Data,
				Wrapped: err,
			}
		}
		return VoiceSpeakingEvent{Speaking: p}, nil

	case VoiceOpHeartbeatAck:
		return VoiceHeartbeatAckEvent{}, nil

	default:
		return VoiceUnknownEvent{Op: env.Op, Raw: env.Data}, nil
	}
}
