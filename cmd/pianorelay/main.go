// Command pianorelay runs the multiplayer piano relay server: a single
// process holding the channel/crown/quota state graph and serving it
// over one websocket endpoint.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"pianorelay/server/internal/core"
	"pianorelay/server/internal/httpapi"
)

func main() {
	port := flag.String("port", envOr("WS_PORT", "8080"), "HTTP/WebSocket listen port")
	flag.Parse()

	production := strings.Contains(strings.ToLower(os.Getenv("NODE_ENV")), "prod")
	salt1 := os.Getenv("SALT1")
	salt2 := os.Getenv("SALT2")
	if !production {
		slog.Info("starting in development mode: client ids are random, not derived from a salted hash")
	}

	state := core.NewState()
	server := httpapi.New(state, production, salt1, salt2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		cancel()
	}()

	go runTickScheduler(ctx, state)

	addr := ":" + *port
	slog.Info("listening", "addr", addr, "production", production)
	if err := server.Run(ctx, addr); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// runTickScheduler advances every live client's note quota once a second
// (§4.G). The ticker's own monotonic interval means missed ticks are not
// coalesced and drift does not accumulate.
func runTickScheduler(ctx context.Context, state *core.State) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state.TickAllQuotas()
		}
	}
}
