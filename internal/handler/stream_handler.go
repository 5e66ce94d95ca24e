package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/placebook/internal/locations"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// StreamHandler はワークスペースの状態をWebSocketで配信するハンドラー。
type StreamHandler struct {
	locations *LocationsHandler
	upgrader  websocket.Upgrader
}

// NewStreamHandler はStreamHandlerを生成する。
// allowedOriginはCORSで許可しているオリジン。同一オリジンからの接続は常に許可する。
func NewStreamHandler(locationsHandler *LocationsHandler, allowedOrigin string) *StreamHandler {
	return &StreamHandler{
		locations: locationsHandler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(allowedOrigin),
		},
	}
}

// Stream は状態が変化するたびにスナップショットを送信する。
// クライアントからのメッセージは読み捨て、切断の検知にのみ使う。
// GET /api/locations/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	m, ok := h.locations.workspace(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgradeがエラーレスポンスを書き込み済み
		slog.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	states, stop := m.Watch()
	defer stop()

	closed := make(chan struct{})
	go readUntilClose(conn, closed)

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case s := <-states:
			if err := writeState(conn, s); err != nil {
				slog.Debug("websocket write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-m.Done():
			// 停止直前の状態（サインアウト後の空の一覧など）を送ってから閉じる
			select {
			case s := <-states:
				writeState(conn, s)
			default:
			}
			writeClose(conn, websocket.CloseGoingAway, "workspace closed")
			return
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeState(conn *websocket.Conn, s locations.State) error {
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(toStateResponse(s))
}

func writeClose(conn *websocket.Conn, code int, text string) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(streamWriteWait))
}

// readUntilClose はクライアントが切断するまでメッセージを読み捨てる。
func readUntilClose(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// checkOrigin はOriginヘッダーがない、同一ホスト、または許可オリジンの場合に接続を許可する。
func checkOrigin(allowedOrigin string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if allowedOrigin != "" && origin == allowedOrigin {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	}
}
