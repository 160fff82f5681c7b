package voice

import (
	"errors"
	"fmt"
)

// VoiceErrorCode определяет типизированные коды ошибок голосового слоя
type VoiceErrorCode int

const (
	// Ошибки handshake
	ErrorCodeHandshakeTimeout VoiceErrorCode = iota + 200
	ErrorCodeHandshakeFailed
	ErrorCodeUnsupportedEncryptionMode
	ErrorCodeDiscoveryFailed

	// Ошибки протокола и шифрования
	ErrorCodeProtocolViolation
	ErrorCodeDecryptFailed
	ErrorCodePacketInvalid

	// Ошибки жизненного цикла
	ErrorCodeTransportClosed
	ErrorCodeNotConnected
	ErrorCodeConnectionClosed
	ErrorCodeQueueClosed
	ErrorCodeSourceFailed
)

// String возвращает строковое представление кода ошибки
func (code VoiceErrorCode) String() string {
	switch code {
	case ErrorCodeHandshakeTimeout:
		return "HandshakeTimeout"
	case ErrorCodeHandshakeFailed:
		return "HandshakeFailed"
	case ErrorCodeUnsupportedEncryptionMode:
		return "UnsupportedEncryptionMode"
	case ErrorCodeDiscoveryFailed:
		return "DiscoveryFailed"
	case ErrorCodeProtocolViolation:
		return "ProtocolViolation"
	case ErrorCodeDecryptFailed:
		return "DecryptFailed"
	case ErrorCodePacketInvalid:
		return "PacketInvalid"
	case ErrorCodeTransportClosed:
		return "TransportClosed"
	case ErrorCodeNotConnected:
		return "NotConnected"
	case ErrorCodeConnectionClosed:
		return "ConnectionClosed"
	case ErrorCodeQueueClosed:
		return "QueueClosed"
	case ErrorCodeSourceFailed:
		return "SourceFailed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// VoiceError базовая структура ошибок голосового слоя.
// Предоставляет расширенную информацию об ошибке включая:
//   - Типизированный код ошибки
//   - Контекстную информацию (режимы шифрования, endpoint)
//   - Возможность обертывания других ошибок
//   - Идентификатор сервера для сопоставления с логами
type VoiceError struct {
	Code     VoiceErrorCode
	Message  string
	ServerID string
	Context  map[string]interface{}
	Wrapped  error
}

// Error реализует интерфейс error, возвращая форматированное сообщение об ошибке.
func (e *VoiceError) Error() string {
	if e.ServerID != "" {
		return fmt.Sprintf("[voice:%s] сервер %s: %s", e.Code, e.ServerID, e.Message)
	}
	return fmt.Sprintf("[voice:%s] %s", e.Code, e.Message)
}

// Unwrap возвращает обернутую ошибку, поддерживая errors.Unwrap.
func (e *VoiceError) Unwrap() error {
	return e.Wrapped
}

// Is поддерживает errors.Is, позволяя сравнивать ошибки по коду.
func (e *VoiceError) Is(target error) bool {
	if t, ok := target.(*VoiceError); ok {
		return e.Code == t.Code
	}
	return false
}

// GetContext возвращает значение из контекста ошибки по ключу.
func (e *VoiceError) GetContext(key string) interface{} {
	if e.Context == nil {
		return nil
	}
	return e.Context[key]
}

// NewVoiceError создает новую ошибку голосового слоя
func NewVoiceError(code VoiceErrorCode, serverID, message string) *VoiceError {
	return &VoiceError{
		Code:     code,
		Message:  message,
		ServerID: serverID,
	}
}

// WrapVoiceError оборачивает существующую ошибку в VoiceError
func WrapVoiceError(code VoiceErrorCode, serverID, message string, err error) *VoiceError {
	return &VoiceError{
		Code:     code,
		Message:  message,
		ServerID: serverID,
		Wrapped:  err,
	}
}

// HasErrorCode проверяет, содержит ли цепочка ошибок указанный код
func HasErrorCode(err error, code VoiceErrorCode) bool {
	var voiceErr *VoiceError
	if errors.As(err, &voiceErr) {
		return voiceErr.Code == code
	}
	return false
}
