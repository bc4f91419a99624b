// Command loomd is the server daemon that hosts LOOM rooms over
// websocket: adapted from the teacher's cmd/server/main.go, trimmed of
// its SQLite wiring (spec.md's Non-goals exclude persistence) and
// extended with a -mode flag selecting which document engine new
// rooms run.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/loomroom/loom/pkg/hub"
	"github.com/loomroom/loom/pkg/logger"
	"github.com/loomroom/loom/pkg/room"
)

// config holds every env-driven tunable, following the teacher's
// cmd/server/main.go Config-struct-plus-getEnv* pattern verbatim.
type config struct {
	Port                string
	Mode                string
	MaxDocumentSizeKB   int
	BroadcastBufferSize int
	RoomTTL             time.Duration
	CleanupInterval     time.Duration
}

func loadConfig() config {
	mode := flag.String("mode", getEnv("LOOM_MODE", "crdt"), "document engine for new rooms: crdt or ot")
	flag.Parse()

	return config{
		Port:                getEnv("PORT", "3030"),
		Mode:                strings.ToLower(*mode),
		MaxDocumentSizeKB:   getEnvInt("MAX_DOCUMENT_SIZE_KB", 256),
		BroadcastBufferSize: getEnvInt("BROADCAST_BUFFER_SIZE", 16),
		RoomTTL:             time.Duration(getEnvInt("ROOM_TTL_MINUTES", 60)) * time.Minute,
		CleanupInterval:     time.Duration(getEnvInt("CLEANUP_INTERVAL_MINUTES", 10)) * time.Minute,
	}
}

func main() {
	logger.Init()
	cfg := loadConfig()

	mode := room.ModeCRDT
	if cfg.Mode == "ot" {
		mode = room.ModeOT
	}
	logger.Info("loomd: starting (mode=%s, port=%s)", cfg.Mode, cfg.Port)

	h := hub.New(hub.Config{
		Mode:                mode,
		MaxDocumentSize:     cfg.MaxDocumentSizeKB << 10,
		BroadcastBufferSize: cfg.BroadcastBufferSize,
		RoomTTL:             cfg.RoomTTL,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", wsHandler(h))
	mux.HandleFunc("/healthz", healthHandler(h))

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.StartCleaner(ctx, cfg.CleanupInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("loomd: shutting down")
		cancel()
		h.Shutdown()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("loomd: serve: %v", err)
		os.Exit(1)
	}
}

// wsHandler serves /ws/{roomId}?clientId=... — the query-parameter
// handshake spec.md §4.1 describes for conveying roomId/clientId.
func wsHandler(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := strings.TrimPrefix(r.URL.Path, "/ws/")
		clientID := r.URL.Query().Get("clientId")
		if roomID == "" || clientID == "" {
			http.Error(w, "roomId path segment and clientId query param are required", http.StatusBadRequest)
			return
		}
		if err := hub.ServeWS(h, w, r, roomID, clientID); err != nil {
			logger.Warn("loomd: connection for room %q: %v", roomID, err)
		}
	}
}

func healthHandler(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(h.Stats())
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}
