// Package protocol implements the wire envelope format of the chat gateway
// and voice control channels.
//
// Пакет содержит кодек конвертов (envelope) обоих управляющих каналов:
//   - Envelope: общий формат {op, d, s, t} для gateway и voice websocket
//   - Op-коды gateway канала (dispatch, heartbeat, identify, resume и т.д.)
//   - Op-коды voice канала (identify, select protocol, ready, speaking и т.д.)
//   - Типизированное декодирование событий в sum-тип Event с явным
//     вариантом Unknown для форвард-совместимости
//
// Декодирование тотально: неизвестный op-код или имя события никогда не
// вызывает панику. Неизвестные события возвращаются как Unknown с сырым
// payload, искажённый payload известного события возвращает *DecodeError.
//
// Архитектурно пакет не знает о транспорте и сессиях — он работает только
// с байтами и структурами. Сессии (pkg/gateway, pkg/voice) используют его
// как чистую функцию декодирования.
package protocol
