package api

import (
	"bufio"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// consoleTailBytes bounds how much history a new client receives.
	consoleTailBytes = 16 * 1024
	consolePoll      = 500 * time.Millisecond
	consoleWriteWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Token auth already ran in the middleware chain.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Console streams the instance's console log over a websocket. The
// client receives the tail of the existing log, then every line
// appended while the connection is open.
func (h *Handler) Console(c *gin.Context) {
	inst, _, ok := h.instance(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	file, err := os.Open(inst.OutputLog())
	if err != nil {
		conn.SetWriteDeadline(time.Now().Add(consoleWriteWait))
		conn.WriteMessage(websocket.TextMessage, []byte("console log not available yet"))
		return
	}
	defer file.Close()

	if info, err := file.Stat(); err == nil && info.Size() > consoleTailBytes {
		if _, err := file.Seek(-consoleTailBytes, io.SeekEnd); err == nil {
			// Drop the partial line at the seek point.
			skipPartialLine(file)
		}
	}

	// Reads from the client only to observe the close handshake.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	reader := bufio.NewReader(file)
	ticker := time.NewTicker(consolePoll)
	defer ticker.Stop()

	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			conn.SetWriteDeadline(time.Now().Add(consoleWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		}
		if err == nil {
			continue
		}
		if err != io.EOF {
			return
		}

		select {
		case <-done:
			return
		case <-ticker.C:
		}
	}
}

// skipPartialLine advances past the line the tail seek landed in.
func skipPartialLine(file *os.File) {
	buf := make([]byte, 1)
	for {
		if _, err := file.Read(buf); err != nil || buf[0] == '\n' {
			return
		}
	}
}
