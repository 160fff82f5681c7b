package protocol

import (
	"encoding/json"
	"runtime"
)

// Версия gateway протокола, с которой работает клиент
const GatewayVersion = 6

// identifyProperties описывает клиентскую платформу в identify payload
type identifyProperties struct {
	OS      string `json:"$os"`
	Browser string `json:"$browser"`
	Device  string `json:"$device"`
}

// identifyPayload — payload для OpIdentify
type identifyPayload struct {
	Token          string             `json:"token"`
	Properties     identifyProperties `json:"properties"`
	Compress       bool               `json:"compress"`
	LargeThreshold int                `json:"large_threshold"`
	Shard          *[2]int            `json:"shard,omitempty"`
	Version        int                `json:"v"`
}

// Identify строит конверт начального handshake.
// shard передаётся как [номер, всего] либо nil для не-шардированного клиента.
func Identify(token string, shard *[2]int) ([]byte, error) {
	return command(int(OpIdentify), identifyPayload{
		Token: token,
		Properties: identifyProperties{
			OS:      runtime.GOOS,
			Browser: "chat_client",
			Device:  "chat_client",
		},
		Compress:       false,
		LargeThreshold: 250,
		Shard:          shard,
		Version:        GatewayVersion,
	})
}

// resumePayload — payload для OpResume
type resumePayload struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// Resume строит конверт переподключения к существующей сессии
// начиная с последнего обработанного номера последовательности.
func Resume(token, sessionID string, lastSeq int64) ([]byte, error) {
	return command(int(OpResume), resumePayload{
		Token:     token,
		SessionID: sessionID,
		Seq:       lastSeq,
	})
}

// Heartbeat строит конверт сигнала живости gateway канала.
// Payload содержит последний обработанный номер последовательности.
func Heartbeat(lastSeq int64) ([]byte, error) {
	return command(int(OpHeartbeat), lastSeq)
}

// StatusUpdatePayload описывает обновление присутствия клиента
type StatusUpdatePayload struct {
	Since  int64       `json:"since"`
	Game   interface{} `json:"game"`
	Status string      `json:"status"`
	AFK    bool        `json:"afk"`
}

// StatusUpdate строит конверт обновления присутствия
func StatusUpdate(p StatusUpdatePayload) ([]byte, error) {
	return command(int(OpStatusUpdate), p)
}

// voiceStatePayload — payload для OpVoiceStateUpdate
type voiceStatePayload struct {
	ServerID  *ServerID  `json:"guild_id"`
	ChannelID *ChannelID `json:"channel_id"`
	SelfMute  bool       `json:"self_mute"`
	SelfDeaf  bool       `json:"self_deaf"`
}

// VoiceStateCommand строит конверт входа в голосовой канал.
// channelID == nil означает выход из голосового канала сервера.
func VoiceStateCommand(serverID ServerID, channelID *ChannelID, mute, deaf bool) ([]byte, error) {
	var sid *ServerID
	if !serverID.IsZero() {
		sid = &serverID
	}
	return command(int(OpVoiceStateUpdate), voiceStatePayload{
		ServerID:  sid,
		ChannelID: channelID,
		SelfMute:  mute,
		SelfDeaf:  deaf,
	})
}

// requestMembersPayload — payload для OpRequestMembers
type requestMembersPayload struct {
	ServerIDs []ServerID `json:"guild_id"`
	Query     string     `json:"query"`
	Limit     int        `json:"limit"`
}

// RequestMembers строит конверт запроса полного списка участников серверов
func RequestMembers(servers []ServerID) ([]byte, error) {
	return command(int(OpRequestMembers), requestMembersPayload{
		ServerIDs: servers,
		Query:     "",
		Limit:     0,
	})
}

// --- payload'ы voice управляющего канала ---

// voiceIdentifyPayload — payload для VoiceOpIdentify
type voiceIdentifyPayload struct {
	ServerID  string `json:"server_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

// VoiceIdentify строит конверт начала voice handshake
func VoiceIdentify(serverID ServerID, userID UserID, sessionID, token string) ([]byte, error) {
	return command(int(VoiceOpIdentify), voiceIdentifyPayload{
		ServerID:  serverID.String(),
		UserID:    userID.String(),
		SessionID: sessionID,
		Token:     token,
	})
}

// selectProtocolData — вложенный объект data в select protocol payload
type selectProtocolData struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Mode    string `json:"mode"`
}

// selectProtocolPayload — payload для VoiceOpSelectProtocol
type selectProtocolPayload struct {
	Protocol string             `json:"protocol"`
	Data     selectProtocolData `json:"data"`
}

// SelectProtocol строит конверт выбора UDP транспорта и режима шифрования.
// address и port — внешне видимые адрес и порт клиента, полученные
// в ходе IP discovery.
func SelectProtocol(address string, port uint16, mode string) ([]byte, error) {
	return command(int(VoiceOpSelectProtocol), selectProtocolPayload{
		Protocol: "udp",
		Data: selectProtocolData{
			Address: address,
			Port:    port,
			Mode:    mode,
		},
	})
}

// VoiceHeartbeat строит конверт сигнала живости voice канала
func VoiceHeartbeat(nonce int64) ([]byte, error) {
	return command(int(VoiceOpHeartbeat), nonce)
}

// speakingPayload — payload для VoiceOpSpeaking
type speakingPayload struct {
	Speaking bool `json:"speaking"`
	Delay    int  `json:"delay"`
}

// Speaking строит конверт индикации речи.
// Должен быть отправлен до первого аудио кадра после периода тишины.
func Speaking(speaking bool) ([]byte, error) {
	return command(int(VoiceOpSpeaking), speakingPayload{
		Speaking: speaking,
		Delay:    0,
	})
}

// VoiceReady — payload события VoiceOpReady
type VoiceReady struct {
	SSRC              uint32   `json:"ssrc"`
	IP                string   `json:"ip"`
	Port              uint16   `json:"port"`
	Modes             []string `json:"modes"`
	HeartbeatInterval int64    `json:"heartbeat_interval"`
}

// SessionDescription — payload события VoiceOpSessionDescription
type SessionDescription struct {
	Mode      string   `json:"mode"`
	SecretKey [32]byte `json:"secret_key"`
}

// UnmarshalJSON разбирает secret_key, который приходит JSON-массивом
// чисел (не base64 строкой), и требует ровно 32 байта.
func (sd *SessionDescription) UnmarshalJSON(data []byte) error {
	var raw struct {
		Mode      string `json:"mode"`
		SecretKey []int  `json:"secret_key"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.SecretKey) != len(sd.SecretKey) {
		return &DecodeError{
			Op:     int(VoiceOpSessionDescription),
			Reason: "secret_key должен содержать ровно 32 байта",
		}
	}
	sd.Mode = raw.Mode
	for i, b := range raw.SecretKey {
		sd.SecretKey[i] = byte(b)
	}
	return nil
}

// VoiceSpeaking — payload события VoiceOpSpeaking от сервера
type VoiceSpeaking struct {
	UserID   UserID `json:"user_id"`
	SSRC     uint32 `json:"ssrc"`
	Speaking bool   `json:"speaking"`
}

// VoiceHello — payload события VoiceOpHello
type VoiceHello struct {
	HeartbeatInterval float64 `json:"heartbeat_interval"`
}
