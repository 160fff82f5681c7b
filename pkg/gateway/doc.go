// Package gateway implements the client side of the chat platform's
// persistent event-streaming connection.
//
// Пакет реализует протокольный конечный автомат gateway сессии:
//   - Handshake: identify → hello → ready с таймаутом каждого шага
//   - Heartbeat: периодический сигнал живости с контролем подтверждений;
//     пропуск подтверждения сверх 2× интервала означает мёртвое соединение
//   - Resume: переподключение к существующей сессии с реплеем пропущенных
//     событий строго до новых событий
//   - Reconnect: полный повторный handshake с экспоненциальным backoff
//     и ограниченным числом попыток — никогда не тихий бесконечный цикл
//
// Состояния сессии: disconnected → handshaking → connected, из connected
// возможны resuming и reconnecting. Переходы управляются конечным
// автоматом (looplab/fsm) и видны через Session.State().
//
// Поток данных: фоновый цикл приёма читает кадры транспорта, декодирует
// их через pkg/protocol и доставляет события потребителю через
// ограниченный канал. Порядок доставки равен порядку получения;
// дубликаты и устаревшие номера последовательности отбрасываются молча.
//
// Сессия владеет своими полями единолично: session id, счётчик
// последовательности и состояние мутируются только циклом приёма.
// Потребитель читает события через NextEvent/Events и никогда не
// обращается к внутреннему состоянию напрямую.
//
// Пример использования:
//
//	session, err := gateway.Open(ctx, gateway.Config{
//	    Token:    token,
//	    Endpoint: gateway.StaticEndpoint(gatewayURL),
//	})
//	if err != nil {
//	    return err
//	}
//	defer session.Close()
//
//	for {
//	    event, err := session.NextEvent(ctx)
//	    if err != nil {
//	        return err // терминальное закрытие с типизированной причиной
//	    }
//	    handle(event)
//	}
package gateway
