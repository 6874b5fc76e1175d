package server

import (
	"errors"
	"io"
	"net"
	"os"

	"github.com/gorilla/websocket"

	"github.com/Reenniizz/StartupMatch-sub003/internal/logger"
)

func isNetClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	ok := errors.As(err, &opErr)
	return ok && opErr.Timeout()
}

func handleReadError(connID string, err error) {
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		logger.InfoF("[%s] Client close connection", connID)
	case errors.Is(err, io.EOF):
		logger.InfoF("[%s] Client close connection", connID)
	case os.IsTimeout(err):
		logger.WarnF("[%s] Reading timeout, heartbeat lost", connID)
	default:
		logger.ErrorF("[%s] Error occured while reading event, details: %v", connID, err)
	}
}
