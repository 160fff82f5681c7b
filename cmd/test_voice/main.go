package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/arzzra/chat_client/pkg/gateway"
	"github.com/arzzra/chat_client/pkg/protocol"
)

// passthroughEncoder отдаёт PCM кадры как есть. Подходит только для
// проверки темпа отправки: сервер ожидает кадры настоящего кодека.
type passthroughEncoder struct{}

func (passthroughEncoder) Encode(pcm []int16) ([]byte, error) {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out, nil
}

func main() {
	var (
		endpoint = flag.String("endpoint", "", "Gateway websocket URL (wss://...)")
		token    = flag.String("token", "", "Auth token (default: CHAT_TOKEN env)")
		serverID = flag.String("server", "", "Server ID with the voice channel")
		channel  = flag.String("channel", "", "Voice channel ID to join")
		file     = flag.String("file", "", "Media file to play through ffmpeg")
		debug    = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	if *debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	authToken := *token
	if authToken == "" {
		authToken = os.Getenv("CHAT_TOKEN")
	}
	if authToken == "" || *endpoint == "" || *serverID == "" || *channel == "" {
		fmt.Println("Требуются -endpoint, -server, -channel и токен (-token или CHAT_TOKEN)")
		os.Exit(1)
	}

	srvID, err := parseSnowflake(*serverID)
	if err != nil {
		log.Fatalf("Невалидный server ID: %v", err)
	}
	chID, err := parseSnowflake(*channel)
	if err != nil {
		log.Fatalf("Невалидный channel ID: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Получен сигнал, завершение...")
		cancel()
	}()

	log.Printf("Подключение к gateway: %s", *endpoint)
	session, err := gateway.Open(ctx, gateway.DefaultConfig(authToken, gateway.StaticEndpoint(*endpoint)))
	if err != nil {
		log.Fatalf("Ошибка подключения: %v", err)
	}
	defer session.Close()

	// Дожидаемся ready, затем входим в голосовой канал
	if _, err := session.NextEvent(ctx); err != nil {
		log.Fatalf("Сессия завершена до ready: %v", err)
	}
	log.Printf("Сессия готова (session_id=%s), вход в голосовой канал %s", session.SessionID(), chID)

	joinCtx, joinCancel := context.WithTimeout(ctx, 30*time.Second)
	voiceConn, err := session.ConnectVoice(joinCtx, srvID, chID)
	joinCancel()
	if err != nil {
		log.Fatalf("Голосовое подключение не удалось: %v", err)
	}
	log.Printf("=== ГОЛОСОВОЙ КАНАЛ ПОДКЛЮЧЕН === ssrc=%d", voiceConn.SSRC())

	if *file != "" {
		trackID, err := voiceConn.PlayFile(*file, passthroughEncoder{})
		if err != nil {
			log.Fatalf("Не удалось поставить файл в очередь: %v", err)
		}
		log.Printf("Воспроизведение: %s (track=%s)", *file, trackID)
	}

	// Основной цикл: события gateway до завершения
	for {
		event, err := session.NextEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("Завершение по запросу")
				_ = session.DisconnectVoice(srvID)
				return
			}
			log.Fatalf("Сессия завершена: %v", err)
		}
		if vs, ok := event.(protocol.VoiceStateUpdate); ok {
			log.Printf("Voice state: user=%s channel=%v", vs.UserID, vs.ChannelID)
		}
	}
}

func parseSnowflake(s string) (protocol.Snowflake, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return protocol.Snowflake(v), nil
}
