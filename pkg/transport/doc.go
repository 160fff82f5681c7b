// Package transport abstracts the two channels the protocol core runs over.
//
// Пакет предоставляет две абстракции транспорта:
//   - FrameConn: постоянный дуплексный канал с кадрированием сообщений
//     (websocket) — используется gateway сессией и voice управляющим каналом
//   - PacketConn: ненадёжный датаграммный канал (UDP) — используется voice
//     сессией для передачи шифрованных аудио пакетов
//
// Протокольное ядро (pkg/gateway, pkg/voice) зависит только от этих
// интерфейсов, что позволяет подменять транспорт в тестах без сети.
//
// UDP транспорт настраивает сокет для голосового трафика (приоритет,
// DSCP маркировка) платформо-специфичными опциями — см. socket_*.go.
package transport
