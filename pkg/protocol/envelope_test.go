package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelope(t *testing.T) {
	t.Run("Конверт dispatch с номером и именем", func(t *testing.T) {
		env, err := ParseEnvelope([]byte(`{"op":0,"s":42,"t":"MESSAGE_CREATE","d":{"id":"1"}}`))
		require.NoError(t, err)
		assert.Equal(t, 0, env.Op)
		assert.Equal(t, int64(42), env.Seq())
		assert.Equal(t, "MESSAGE_CREATE", env.Type)
	})

	t.Run("Конверт без номера последовательности", func(t *testing.T) {
		env, err := ParseEnvelope([]byte(`{"op":11}`))
		require.NoError(t, err)
		assert.Equal(t, int64(0), env.Seq())
	})

	t.Run("Невалидный кадр возвращает DecodeError", func(t *testing.T) {
		_, err := ParseEnvelope([]byte(`не json`))
		require.Error(t, err)
		var decodeErr *DecodeError
		assert.True(t, errors.As(err, &decodeErr))
	})
}

func TestDecodeGatewayEvent(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		check func(t *testing.T, ev GatewayEvent)
	}{
		{
			name:  "Hello несёт интервал heartbeat",
			frame: `{"op":10,"d":{"heartbeat_interval":41250}}`,
			check: func(t *testing.T, ev GatewayEvent) {
				hello, ok := ev.(Hello)
				require.True(t, ok)
				assert.Equal(t, 41250*time.Millisecond, hello.HeartbeatInterval)
			},
		},
		{
			name:  "Dispatch декодируется с номером",
			frame: `{"op":0,"s":7,"t":"TYPING_START","d":{"channel_id":"5","user_id":"9","timestamp":100}}`,
			check: func(t *testing.T, ev GatewayEvent) {
				d, ok := ev.(Dispatch)
				require.True(t, ok)
				assert.Equal(t, int64(7), d.Seq)
				typing, ok := d.Event.(TypingStart)
				require.True(t, ok)
				assert.Equal(t, ChannelID(5), typing.ChannelID)
			},
		},
		{
			name:  "InvalidSession с флагом resumable",
			frame: `{"op":9,"d":true}`,
			check: func(t *testing.T, ev GatewayEvent) {
				inv, ok := ev.(InvalidSession)
				require.True(t, ok)
				assert.True(t, inv.Resumable)
			},
		},
		{
			name:  "Reconnect без payload",
			frame: `{"op":7,"d":null}`,
			check: func(t *testing.T, ev GatewayEvent) {
				_, ok := ev.(Reconnect)
				assert.True(t, ok)
			},
		},
		{
			name:  "Неизвестный op-код сохраняет payload",
			frame: `{"op":99,"d":{"x":1}}`,
			check: func(t *testing.T, ev GatewayEvent) {
				unknown, ok := ev.(UnknownOp)
				require.True(t, ok)
				assert.Equal(t, 99, unknown.Op)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(tt.frame))
			require.NoError(t, err)
			ev, err := DecodeGatewayEvent(env)
			require.NoError(t, err)
			tt.check(t, ev)
		})
	}

	t.Run("Hello без интервала — ошибка декодирования", func(t *testing.T) {
		env, err := ParseEnvelope([]byte(`{"op":10,"d":{}}`))
		require.NoError(t, err)
		_, err = DecodeGatewayEvent(env)
		require.Error(t, err)
	})
}

func TestDecodeDispatch(t *testing.T) {
	t.Run("Ready требует session_id", func(t *testing.T) {
		_, err := DecodeDispatch("READY", json.RawMessage(`{"v":6,"user":{"id":"1"}}`))
		require.Error(t, err)
	})

	t.Run("Неизвестное имя события возвращает Unknown", func(t *testing.T) {
		ev, err := DecodeDispatch("GUILD_BAN_ADD", json.RawMessage(`{"user":{"id":"1"}}`))
		require.NoError(t, err)
		unknown, ok := ev.(Unknown)
		require.True(t, ok)
		assert.Equal(t, "GUILD_BAN_ADD", unknown.Name)
		assert.NotEmpty(t, unknown.Raw)
	})

	t.Run("Искажённый payload известного события — ошибка", func(t *testing.T) {
		_, err := DecodeDispatch("MESSAGE_CREATE", json.RawMessage(`[1,2,3]`))
		require.Error(t, err)
		var decodeErr *DecodeError
		require.True(t, errors.As(err, &decodeErr))
		assert.Equal(t, "MESSAGE_CREATE", decodeErr.Name)
	})

	t.Run("VoiceStateUpdate с null каналом означает выход", func(t *testing.T) {
		ev, err := DecodeDispatch("VOICE_STATE_UPDATE",
			json.RawMessage(`{"guild_id":"1","user_id":"2","channel_id":null,"session_id":"abc"}`))
		require.NoError(t, err)
		vs := ev.(VoiceStateUpdate)
		assert.Nil(t, vs.ChannelID)
		assert.Equal(t, "abc", vs.SessionID)
	})
}

func TestSnowflake(t *testing.T) {
	t.Run("Сериализуется строкой", func(t *testing.T) {
		data, err := json.Marshal(Snowflake(155149110177636352))
		require.NoError(t, err)
		assert.Equal(t, `"155149110177636352"`, string(data))
	})

	t.Run("Принимает строку и число", func(t *testing.T) {
		var fromString, fromNumber Snowflake
		require.NoError(t, json.Unmarshal([]byte(`"42"`), &fromString))
		require.NoError(t, json.Unmarshal([]byte(`42`), &fromNumber))
		assert.Equal(t, fromString, fromNumber)
	})

	t.Run("Невалидная строка — ошибка", func(t *testing.T) {
		var s Snowflake
		require.Error(t, json.Unmarshal([]byte(`"abc"`), &s))
	})
}

func TestSessionDescription(t *testing.T) {
	t.Run("Ключ приходит массивом чисел", func(t *testing.T) {
		raw := `{"mode":"xsalsa20_poly1305","secret_key":[`
		for i := 0; i < 32; i++ {
			if i > 0 {
				raw += ","
			}
			raw += "1"
		}
		raw += `]}`

		var sd SessionDescription
		require.NoError(t, json.Unmarshal([]byte(raw), &sd))
		assert.Equal(t, "xsalsa20_poly1305", sd.Mode)
		assert.Equal(t, byte(1), sd.SecretKey[31])
	})

	t.Run("Ключ не из 32 байт отвергается", func(t *testing.T) {
		var sd SessionDescription
		err := json.Unmarshal([]byte(`{"mode":"m","secret_key":[1,2,3]}`), &sd)
		require.Error(t, err)
	})
}

func TestCommands(t *testing.T) {
	t.Run("Identify несёт токен и версию", func(t *testing.T) {
		frame, err := Identify("secret-token", nil)
		require.NoError(t, err)

		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		assert.Equal(t, int(OpIdentify), env.Op)

		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(env.Data, &payload))
		assert.Equal(t, "secret-token", payload["token"])
		assert.Equal(t, float64(GatewayVersion), payload["v"])
	})

	t.Run("Resume несёт сессию и номер", func(t *testing.T) {
		frame, err := Resume("tok", "sess-1", 99)
		require.NoError(t, err)

		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		assert.Equal(t, int(OpResume), env.Op)

		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(env.Data, &payload))
		assert.Equal(t, "sess-1", payload["session_id"])
		assert.Equal(t, float64(99), payload["seq"])
	})

	t.Run("Выход из голосового канала — null channel_id", func(t *testing.T) {
		frame, err := VoiceStateCommand(ServerID(5), nil, false, false)
		require.NoError(t, err)

		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		var payload map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(env.Data, &payload))
		assert.Equal(t, "null", string(payload["channel_id"]))
	})
}
