package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Harsh-BH/sentinel-judge/internal/delivery/http/middleware"
	"github.com/Harsh-BH/sentinel-judge/internal/domain"
	"github.com/Harsh-BH/sentinel-judge/internal/service"
)

const (
	wsReadTimeout  = 10 * time.Second
	wsWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development; restrict in production
	},
}

// StreamMessage is one frame sent on the judge stream.
type StreamMessage struct {
	Type    string                 `json:"type"`
	Index   *int                   `json:"index,omitempty"`
	Result  *domain.TestCaseResult `json:"result,omitempty"`
	Verdict *domain.Verdict        `json:"verdict,omitempty"`
	Error   *errorBody             `json:"error,omitempty"`
}

// WebSocketHandler streams judge progress over a WebSocket.
type WebSocketHandler struct {
	svc          Service
	maxBodyBytes int64
	logger       *zap.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(svc Service, maxBodyBytes int64, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		svc:          svc,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// Stream handles GET /api/v1/judge/stream (WebSocket upgrade). The client
// sends one JudgeRequest; the server answers with a "result" frame per test
// case in order, then a single "verdict" or "error" frame, and closes.
func (h *WebSocketHandler) Stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	reqID := middleware.GetRequestID(c)
	if h.maxBodyBytes > 0 {
		conn.SetReadLimit(h.maxBodyBytes)
	}
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

	var req service.JudgeRequest
	if err := conn.ReadJSON(&req); err != nil {
		h.logger.Debug("WebSocket read failed", zap.String("request_id", reqID), zap.Error(err))
		h.write(conn, StreamMessage{Type: "error", Error: &errorBody{domain.KindInvalidRequest, "Invalid request message"}})
		return
	}
	conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The client sends nothing after the request; any read error means it
	// went away, so stop judging.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Debug("WebSocket judge stream opened",
		zap.String("request_id", reqID),
		zap.String("language", req.Language),
		zap.Int("tests", len(req.TestCases)),
	)

	verdict, err := h.svc.Judge(ctx, req, func(i int, r domain.TestCaseResult) {
		index, result := i, r
		h.write(conn, StreamMessage{Type: "result", Index: &index, Result: &result})
	})
	if err != nil {
		_, body := statusFor(err)
		if domain.KindOf(err).IsInfra() && ctx.Err() == nil {
			h.logger.Error("judge stream failed", zap.String("request_id", reqID), zap.Error(err))
		}
		h.write(conn, StreamMessage{Type: "error", Error: &body})
		return
	}
	h.write(conn, StreamMessage{Type: "verdict", Verdict: verdict})
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteTimeout))
}

func (h *WebSocketHandler) write(conn *websocket.Conn, msg StreamMessage) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Debug("WebSocket write failed (client disconnected)", zap.Error(err))
	}
}
