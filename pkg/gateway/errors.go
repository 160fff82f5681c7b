package gateway

import (
	"errors"
	"fmt"
)

// GatewayErrorCode определяет типизированные коды ошибок gateway сессии.
// Позволяет классифицировать ошибки по категориям и решать, возможно ли
// автоматическое восстановление соединения.
type GatewayErrorCode int

const (
	// Ошибки аутентификации и handshake
	ErrorCodeAuthFailed GatewayErrorCode = iota + 100
	ErrorCodeHandshakeTimeout
	ErrorCodeHandshakeRejected

	// Ошибки протокола
	ErrorCodeProtocolViolation
	ErrorCodeDecodeFailed

	// Ошибки транспорта и жизненного цикла
	ErrorCodeTransportClosed
	ErrorCodeHeartbeatTimeout
	ErrorCodeSessionInvalid
	ErrorCodeReconnectExhausted
	ErrorCodeSessionClosed
)

// String возвращает строковое представление кода ошибки
func (code GatewayErrorCode) String() string {
	switch code {
	case ErrorCodeAuthFailed:
		return "AuthFailed"
	case ErrorCodeHandshakeTimeout:
		return "HandshakeTimeout"
	case ErrorCodeHandshakeRejected:
		return "HandshakeRejected"
	case ErrorCodeProtocolViolation:
		return "ProtocolViolation"
	case ErrorCodeDecodeFailed:
		return "DecodeFailed"
	case ErrorCodeTransportClosed:
		return "TransportClosed"
	case ErrorCodeHeartbeatTimeout:
		return "HeartbeatTimeout"
	case ErrorCodeSessionInvalid:
		return "SessionInvalid"
	case ErrorCodeReconnectExhausted:
		return "ReconnectExhausted"
	case ErrorCodeSessionClosed:
		return "SessionClosed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// GatewayError базовая структура ошибок gateway слоя.
// Предоставляет расширенную информацию об ошибке включая:
//   - Типизированный код ошибки
//   - Контекстную информацию (код закрытия, номер попытки)
//   - Возможность обертывания других ошибок
//   - Идентификатор сессии для сопоставления с логами
type GatewayError struct {
	Code      GatewayErrorCode
	Message   string
	SessionID string
	Context   map[string]interface{}
	Wrapped   error
}

// Error реализует интерфейс error, возвращая форматированное сообщение об ошибке.
func (e *GatewayError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("[gateway:%s] сессия %s: %s", e.Code, e.SessionID, e.Message)
	}
	return fmt.Sprintf("[gateway:%s] %s", e.Code, e.Message)
}

// Unwrap возвращает обернутую ошибку, поддерживая errors.Unwrap.
func (e *GatewayError) Unwrap() error {
	return e.Wrapped
}

// Is поддерживает errors.Is, позволяя сравнивать ошибки по коду.
func (e *GatewayError) Is(target error) bool {
	if t, ok := target.(*GatewayError); ok {
		return e.Code == t.Code
	}
	return false
}

// GetContext возвращает значение из контекста ошибки по ключу.
func (e *GatewayError) GetContext(key string) interface{} {
	if e.Context == nil {
		return nil
	}
	return e.Context[key]
}

// NewGatewayError создает новую ошибку gateway слоя
func NewGatewayError(code GatewayErrorCode, sessionID, message string) *GatewayError {
	return &GatewayError{
		Code:      code,
		Message:   message,
		SessionID: sessionID,
	}
}

// WrapGatewayError оборачивает существующую ошибку в GatewayError
func WrapGatewayError(code GatewayErrorCode, sessionID, message string, err error) *GatewayError {
	return &GatewayError{
		Code:      code,
		Message:   message,
		SessionID: sessionID,
		Wrapped:   err,
	}
}

// HasErrorCode проверяет, содержит ли цепочка ошибок указанный код
func HasErrorCode(err error, code GatewayErrorCode) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Code == code
	}
	return false
}

// IsFatalError определяет, имеет ли смысл восстанавливать соединение.
// Ошибки аутентификации и явное закрытие сессии восстановлению не подлежат.
func IsFatalError(err error) bool {
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		return false
	}

	switch gwErr.Code {
	case ErrorCodeAuthFailed, ErrorCodeSessionClosed, ErrorCodeReconnectExhausted:
		return true
	}
	return false
}

// IsResumableClose определяет, сохраняет ли сервер состояние сессии после
// данного закрытия. Коды закрытия, сигнализирующие о потере состояния на
// стороне сервера, требуют полного повторного handshake вместо resume.
func IsResumableClose(err error) bool {
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		return true
	}
	if gwErr.Code == ErrorCodeSessionInvalid {
		return false
	}
	if code, ok := gwErr.GetContext("close_code").(int); ok {
		switch code {
		case closeCodeAuthFailed, closeCodeSessionNoLongerValid, closeCodeInvalidSeq, closeCodeSessionTimeout:
			return false
		}
	}
	return true
}

// Коды закрытия websocket соединения, определённые протоколом.
const (
	closeCodeUnknownError         = 4000
	closeCodeAuthFailed           = 4004
	closeCodeSessionNoLongerValid = 4006
	closeCodeInvalidSeq           = 4007
	closeCodeSessionTimeout       = 4009
)
