package probe

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

// inboundFrame is one message as read from the socket. err is set when the
// read failed; a *websocket.CloseError means the relay sent a close frame.
type inboundFrame struct {
	err  error
	data []byte
	kind int
}

// readFrames reads one message per token on grant and hands it to frames.
// The transport joins continuation frames, so data is always a whole
// message. Pings from the relay are answered inside ReadMessage. It exits
// after a read error or when stop is closed.
func readFrames(ws *websocket.Conn, grant <-chan struct{}, frames chan<- inboundFrame, stop <-chan struct{}) {
	for {
		select {
		case <-grant:
		case <-stop:
			return
		}

		var f inboundFrame
		f.kind, f.data, f.err = ws.ReadMessage()

		select {
		case frames <- f:
		case <-stop:
			return
		}
		if f.err != nil {
			return
		}
	}
}

func writeText(ws *websocket.Conn, data []byte) error {
	if err := ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, data)
}

func writePing(ws *websocket.Conn) error {
	return ws.WriteControl(websocket.PingMessage, []byte{0x1}, time.Now().Add(writeTimeout))
}

// writeClose sends a normal closure. If the relay closed first, the
// transport has already echoed its close frame and there is nothing to send.
func writeClose(ws *websocket.Conn) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}
