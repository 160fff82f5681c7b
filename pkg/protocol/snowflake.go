package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Snowflake представляет 64-битный идентификатор платформы.
// На проводе передаётся строкой, чтобы не терять точность в JSON.
type Snowflake uint64

// String возвращает десятичное представление идентификатора
func (s Snowflake) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// IsZero проверяет, что идентификатор не установлен
func (s Snowflake) IsZero() bool {
	return s == 0
}

// MarshalJSON сериализует идентификатор строкой
func (s Snowflake) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON принимает идентификатор как строку или как число.
// Сервер исторически использует оба варианта в разных событиях.
func (s *Snowflake) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("пустой snowflake")
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		v, err := strconv.ParseUint(str, 10, 64)
		if err != nil {
			return fmt.Errorf("невалидный snowflake %q: %w", str, err)
		}
		*s = Snowflake(v)
		return nil
	}
	var v uint64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Snowflake(v)
	return nil
}

// Типы идентификаторов предметной области. Разные типы предотвращают
// случайную подмену (например, ChannelID вместо ServerID).
type (
	UserID    = Snowflake
	ChannelID = Snowflake
	ServerID  = Snowflake
	MessageID = Snowflake
)
