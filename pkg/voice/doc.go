// Package voice реализует клиентскую сторону голосового протокола
// платформы поверх UDP.
//
// Подключение проходит многошаговый handshake:
//  1. Gateway сессия отправляет команду смены голосового состояния и
//     передаёт подключению voice state update (session id) и voice
//     server update (endpoint и token) — в любом порядке.
//  2. Устанавливается управляющий websocket канал, отправляется voice
//     identify, в ответ приходят ssrc, порт и список режимов шифрования.
//  3. Открывается UDP канал и выполняется IP discovery: сервер сообщает
//     внешне видимые адрес и порт клиента.
//  4. Отправляется select protocol с выбранным режимом шифрования,
//     в ответ приходит секретный ключ сессии.
//
// После handshake исходящее аудио шифруется и отправляется датаграммами
// с постоянным темпом один кадр в 20 мс. Темп держится по абсолютным
// дедлайнам, поэтому накопленный дрейф не возникает. Когда источник не
// успевает отдать кадр, вместо него уходит кадр тишины. Смена
// говорит/молчит сигнализируется серверу до первого аудио кадра.
//
// Очередь воспроизведения принимает источники аудио и проигрывает их
// последовательно. Источник — это внешний интерфейс; кодирование аудио
// остаётся за его реализацией.
package voice
