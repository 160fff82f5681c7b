package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/arzzra/chat_client/pkg/gateway"
	"github.com/arzzra/chat_client/pkg/protocol"
)

func main() {
	var (
		endpoint = flag.String("endpoint", "", "Gateway websocket URL (wss://...)")
		token    = flag.String("token", "", "Auth token (default: CHAT_TOKEN env)")
		status   = flag.String("status", "", "Presence status to set after ready")
		duration = flag.Duration("duration", 0, "Run duration, 0 = until interrupted")
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
	if authToken == "" || *endpoint == "" {
		fmt.Println("Требуются -endpoint и токен (-token или CHAT_TOKEN)")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

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

	for {
		event, err := session.NextEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("Завершение по запросу")
				return
			}
			log.Fatalf("Сессия завершена: %v", err)
		}

		switch ev := event.(type) {
		case protocol.Ready:
			log.Printf("=== СЕССИЯ ГОТОВА ===")
			log.Printf("Session ID: %s", ev.SessionID)
			log.Printf("Пользователь: %s#%s (%s)", ev.User.Username, ev.User.Discriminator, ev.User.ID)
			if *status != "" {
				if err := session.SetPresence(*status, nil); err != nil {
					log.Printf("Ошибка установки присутствия: %v", err)
				} else {
					log.Printf("Присутствие установлено: %s", *status)
				}
			}

		case protocol.Resumed:
			log.Printf("Сессия восстановлена (seq=%d)", session.LastSeq())

		case protocol.MessageCreate:
			log.Printf("[%s] %s: %s", ev.ChannelID, ev.Author.Username, ev.Content)

		case protocol.TypingStart:
			log.Printf("Печатает: %s в %s", ev.UserID, ev.ChannelID)

		case protocol.PresenceUpdate:
			log.Printf("Присутствие: %s -> %s", ev.User.ID, ev.Status)

		case protocol.Unknown:
			log.Printf("Неизвестное событие: %s (%d байт)", ev.Name, len(ev.Raw))

		default:
			log.Printf("Событие: %s", event.EventName())
		}
	}
}
