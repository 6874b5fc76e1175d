// Package server accepts websocket transports and hands each one to a
// ConnectionHandler running in its own goroutine.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	c "github.com/Reenniizz/StartupMatch-sub003/internal/config"
	"github.com/Reenniizz/StartupMatch-sub003/internal/connection"
	"github.com/Reenniizz/StartupMatch-sub003/internal/dispatcher"
	"github.com/Reenniizz/StartupMatch-sub003/internal/event"
	"github.com/Reenniizz/StartupMatch-sub003/internal/logger"
	"github.com/Reenniizz/StartupMatch-sub003/internal/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// browser clients connect from the app origin; the auth handshake is the
	// real gate
	CheckOrigin: func(r *http.Request) bool { return true },
}

type ServerCloseCallback struct {
	httpServer *http.Server
}

func (sc *ServerCloseCallback) Invoke(ctx context.Context) error {
	connection.GetManager().CloseAll()
	return sc.httpServer.Shutdown(ctx)
}

// StartServer blocks serving websocket upgrades on /ws until shutdown.
func StartServer(port int, d *dispatcher.Dispatcher, auth Authenticator) {
	config, _ := c.GetConfig()
	heartbeatInterval := utils.ParseStringTimeOr(config.Realtime.HeartbeatInterval, 30*time.Second)
	maxConnections := config.Realtime.MaxConnections
	if maxConnections <= 0 {
		maxConnections = 10000
	}
	sem := make(chan struct{}, maxConnections)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}:
		default:
			logger.WarnF("Connection limit reached, rejecting %s", r.RemoteAddr)
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			<-sem
			logger.ErrorF("Upgrade error: %v", err)
			return
		}

		logger.DebugF("Accepted new connection from %s", conn.RemoteAddr().String())

		handler := NewConnectionHandler(conn, d, auth, heartbeatInterval)
		go func() {
			handler.handleConnection()
			<-sem
		}()
	})

	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: mux,
	}

	event.NewCleaner().Add(&ServerCloseCallback{httpServer: httpServer})

	logger.InfoF("Realtime Server Listen On %s", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.FatalF("Realtime Server Start error: %v", err)
	}
}
