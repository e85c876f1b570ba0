package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/houzhh15/certflow/logging"
)

// SSEClient SSE客户端连接
type SSEClient struct {
	ID       string
	Requests chan *PassphraseRequest
	Done     chan struct{}
}

// Notifier SSE实时推送管理器
// 将挂起的口令请求实时推送给已订阅的操作员客户端
type Notifier struct {
	clients   sync.Map // map[string]*SSEClient
	logger    logging.Logger
	heartbeat time.Duration
}

// NewNotifier 创建新的推送管理器
func NewNotifier(logger logging.Logger, heartbeat time.Duration) *Notifier {
	if heartbeat == 0 {
		heartbeat = 30 * time.Second
	}

	return &Notifier{
		logger:    logger,
		heartbeat: heartbeat,
	}
}

// Subscribe 处理操作员客户端订阅
func (n *Notifier) Subscribe(clientID string, w http.ResponseWriter) error {
	// 设置 SSE 响应头
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // 禁用 nginx 缓冲

	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming not supported")
	}

	client := &SSEClient{
		ID:       clientID,
		Requests: make(chan *PassphraseRequest, 10), // 缓冲 10 个请求事件
		Done:     make(chan struct{}),
	}

	n.clients.Store(clientID, client)
	defer func() {
		n.clients.Delete(clientID)
		select {
		case <-client.Done:
			// Already closed
		default:
			close(client.Done)
		}
	}()

	n.logger.Info("SSE client connected", "client_id", clientID)

	// 发送初始连接消息
	fmt.Fprintf(w, "event: connected\ndata: {\"client_id\":\"%s\",\"timestamp\":%d}\n\n", clientID, time.Now().Unix())
	flusher.Flush()

	ticker := time.NewTicker(n.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()

		case req := <-client.Requests:
			data, err := json.Marshal(req)
			if err != nil {
				n.logger.Error("Failed to marshal passphrase request", "client_id", clientID, "error", err)
				return err
			}
			fmt.Fprintf(w, "event: passphrase\ndata: %s\n\n", data)
			flusher.Flush()

		case <-client.Done:
			n.logger.Info("SSE client disconnected", "client_id", clientID)
			return nil
		}
	}
}

// Publish 广播口令请求给所有订阅客户端
func (n *Notifier) Publish(req *PassphraseRequest) {
	count := 0
	n.clients.Range(func(key, value interface{}) bool {
		client := value.(*SSEClient)

		select {
		case client.Requests <- req:
			count++
		case <-client.Done:
			// 客户端已断开
		default:
			// 通道已满，丢弃事件
			n.logger.Warn("SSE client channel full, dropping request",
				"client_id", client.ID,
				"request_id", req.ID,
			)
		}

		return true
	})

	n.logger.Info("Passphrase request broadcasted",
		"request_id", req.ID,
		"ca_name", req.CAName,
		"clients", count,
	)
}

// Unsubscribe 取消订阅
func (n *Notifier) Unsubscribe(clientID string) {
	if value, ok := n.clients.LoadAndDelete(clientID); ok {
		client := value.(*SSEClient)
		close(client.Done)
		n.logger.Info("SSE client unsubscribed", "client_id", clientID)
	}
}

// respondBody 口令响应请求体
type respondBody struct {
	Passphrase string `json:"passphrase"`
	Remember   bool   `json:"remember"`
}

// RegisterRoutes 注册操作员通道的 HTTP 路由
func RegisterRoutes(r gin.IRouter, broker *Broker, notifier *Notifier) {
	// 订阅口令请求事件流
	r.GET("/events", func(c *gin.Context) {
		clientID := c.Query("client_id")
		if clientID == "" {
			clientID = uuid.NewString()
		}

		if err := notifier.Subscribe(clientID, c.Writer); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	})

	// 列出挂起的口令请求
	r.GET("/passphrase-requests", func(c *gin.Context) {
		c.JSON(http.StatusOK, broker.Pending())
	})

	// 响应口令请求
	r.POST("/passphrase-requests/:id", func(c *gin.Context) {
		var body respondBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := broker.Respond(c.Param("id"), body.Passphrase, body.Remember); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "accepted"})
	})
}
