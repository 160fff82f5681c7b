package gateway

import (
	"context"
	"log/slog"

	"github.com/arzzra/chat_client/pkg/protocol"
	"github.com/arzzra/chat_client/pkg/voice"
)

// SetPresence обновляет присутствие клиента на платформе.
// status — одно из "online", "idle", "dnd", "invisible".
func (s *Session) SetPresence(status string, game interface{}) error {
	frame, err := protocol.StatusUpdate(protocol.StatusUpdatePayload{
		Status: status,
		Game:   game,
	})
	if err != nil {
		return err
	}
	return s.sendFrame(frame)
}

// RequestServerMembers запрашивает полный список участников серверов.
// Ответ приходит асинхронно dispatch событиями.
func (s *Session) RequestServerMembers(servers ...protocol.ServerID) error {
	frame, err := protocol.RequestMembers(servers)
	if err != nil {
		return err
	}
	return s.sendFrame(frame)
}

// ConnectVoice подключает клиента к голосовому каналу сервера.
//
// Сессия отправляет команду смены голосового состояния и передаёт
// голосовому подключению оба асинхронных ответа сервера (voice state и
// voice server update). Вызов блокируется до завершения voice handshake
// либо истечения контекста.
func (s *Session) ConnectVoice(ctx context.Context, serverID protocol.ServerID, channelID protocol.ChannelID) (*voice.Connection, error) {
	s.voiceMu.Lock()
	conn, ok := s.voiceConns[serverID]
	// Умершее подключение не переиспользуется: повторный вызов
	// начинает свежий handshake
	if !ok || conn.State() == voice.StateClosed {
		conn = voice.New(s.config.Voice, serverID, s.UserID())
		s.voiceConns[serverID] = conn
	}
	s.voiceMu.Unlock()

	frame, err := protocol.VoiceStateCommand(serverID, &channelID, false, false)
	if err != nil {
		return nil, err
	}
	if err := s.sendFrame(frame); err != nil {
		return nil, err
	}

	slog.Debug("gateway.session Подключение к голосовому каналу",
		"server_id", serverID, "channel_id", channelID)

	if err := conn.WaitReady(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// DisconnectVoice отключает клиента от голосового канала сервера
func (s *Session) DisconnectVoice(serverID protocol.ServerID) error {
	s.voiceMu.Lock()
	conn, ok := s.voiceConns[serverID]
	delete(s.voiceConns, serverID)
	s.voiceMu.Unlock()

	frame, err := protocol.VoiceStateCommand(serverID, nil, false, false)
	if err != nil {
		return err
	}
	if sendErr := s.sendFrame(frame); sendErr != nil {
		// Команду отправить не удалось, но локальное подключение
		// всё равно закрывается
		err = sendErr
	}

	if ok {
		if closeErr := conn.Disconnect(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

// VoiceConnection возвращает активное голосовое подключение сервера
func (s *Session) VoiceConnection(serverID protocol.ServerID) (*voice.Connection, bool) {
	s.voiceMu.Lock()
	defer s.voiceMu.Unlock()
	conn, ok := s.voiceConns[serverID]
	return conn, ok
}

// routeVoiceEvent передаёт голосовые события подключению соответствующего
// сервера. Voice state update чужих участников не маршрутизируется.
func (s *Session) routeVoiceEvent(ev protocol.Event) {
	var serverID protocol.ServerID
	switch e := ev.(type) {
	case protocol.VoiceStateUpdate:
		if e.UserID != s.UserID() {
			return
		}
		serverID = e.ServerID
	case protocol.VoiceServerUpdate:
		serverID = e.ServerID
	default:
		return
	}

	s.voiceMu.Lock()
	conn, ok := s.voiceConns[serverID]
	s.voiceMu.Unlock()
	if ok {
		conn.Update(ev)
	}
}

// disconnectAllVoice закрывает все голосовые подключения сессии
func (s *Session) disconnectAllVoice() {
	s.voiceMu.Lock()
	conns := make([]*voice.Connection, 0, len(s.voiceConns))
	for _, conn := range s.voiceConns {
		conns = append(conns, conn)
	}
	s.voiceConns = make(map[protocol.ServerID]*voice.Connection)
	s.voiceMu.Unlock()

	for _, conn := range conns {
		_ = conn.Disconnect()
	}
}
