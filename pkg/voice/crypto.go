package voice

import (
	"golang.org/x/crypto/nacl/secretbox"
)

// EncryptionModeSecretbox — режим шифрования, поддерживаемый клиентом.
// Отсутствие этого режима в списке сервера — терминальная ошибка handshake.
const EncryptionModeSecretbox = "xsalsa20_poly1305"

const (
	// Размер nonce secretbox
	nonceSize = 24
	// Размер незашифрованного заголовка аудио пакета
	packetHeaderSize = 12
)

// cipherState держит секретный ключ сессии и выполняет шифрование
// аудио пакетов. Nonce каждого пакета — его 12-байтовый заголовок,
// дополненный нулями до 24 байт. Ключ неизменен до конца сессии.
type cipherState struct {
	key [32]byte
}

func newCipherState(key [32]byte) *cipherState {
	return &cipherState{key: key}
}

// seal шифрует полезную нагрузку и возвращает готовый пакет:
// заголовок открытым текстом, за ним шифротекст с тегом аутентичности.
func (c *cipherState) seal(header, payload []byte) []byte {
	var nonce [nonceSize]byte
	copy(nonce[:], header)

	out := make([]byte, len(header), len(header)+len(payload)+secretbox.Overhead)
	copy(out, header)
	return secretbox.Seal(out, payload, &nonce, &c.key)
}

// open расшифровывает входящий пакет, проверяя тег аутентичности.
// Пакеты, не прошедшие проверку, отбрасываются с ошибкой DecryptFailed.
func (c *cipherState) open(packet []byte) ([]byte, error) {
	if len(packet) < packetHeaderSize+secretbox.Overhead {
		return nil, NewVoiceError(ErrorCodePacketInvalid, "",
			"пакет короче минимального зашифрованного кадра")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], packet[:packetHeaderSize])

	plain, ok := secretbox.Open(nil, packet[packetHeaderSize:], &nonce, &c.key)
	if !ok {
		return nil, NewVoiceError(ErrorCodeDecryptFailed, "",
			"пакет не прошёл проверку аутентичности")
	}
	return plain, nil
}
