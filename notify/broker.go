package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/houzhh15/certflow/logging"
)

var (
	// ErrPassphraseTimeout 操作员未在时限内响应口令请求
	ErrPassphraseTimeout = errors.New("passphrase request timed out")
	// ErrUnknownRequest 响应的请求 ID 不存在或已完成
	ErrUnknownRequest = errors.New("unknown passphrase request")
)

// DefaultPassphraseTimeout 口令请求默认时限
const DefaultPassphraseTimeout = 2 * time.Minute

// PassphraseRequest 发给操作员的口令请求
type PassphraseRequest struct {
	ID            string    `json:"id"`
	CAFingerprint string    `json:"ca_fingerprint"`
	CAName        string    `json:"ca_name"`
	RequestedAt   time.Time `json:"requested_at"`
}

// Response 操作员的口令响应
type Response struct {
	Passphrase string `json:"passphrase"`
	Remember   bool   `json:"remember"` // 按 CA 指纹缓存口令供后续续期使用
}

// Sink 口令请求的下游推送通道（SSE 等）
type Sink interface {
	Publish(req *PassphraseRequest)
}

// Broker 口令请求代理
// 每个请求按生成的请求 ID 独立跟踪，多个并发续期互不阻塞；
// 挂起的只是单个续期，不是整个引擎
type Broker struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest

	cache   *Cache
	sink    Sink
	timeout time.Duration
	logger  logging.Logger
	audit   logging.AuditLogger
}

type pendingRequest struct {
	request  *PassphraseRequest
	response chan Response
}

// NewBroker 创建口令代理，timeout 为零时使用默认两分钟
func NewBroker(cache *Cache, sink Sink, timeout time.Duration, logger logging.Logger, audit logging.AuditLogger) *Broker {
	if cache == nil {
		cache = NewCache()
	}
	if timeout == 0 {
		timeout = DefaultPassphraseTimeout
	}

	return &Broker{
		pending: make(map[string]*pendingRequest),
		cache:   cache,
		sink:    sink,
		timeout: timeout,
		logger:  logger,
		audit:   audit,
	}
}

// Acquire 获取 CA 私钥口令
// 缓存命中直接返回；否则向操作员发出异步请求并挂起当前续期直到响应或超时
func (b *Broker) Acquire(ctx context.Context, caFingerprint, caName string) (string, error) {
	if passphrase, ok := b.cache.Get(caFingerprint); ok {
		return passphrase, nil
	}

	req := &PassphraseRequest{
		ID:            uuid.NewString(),
		CAFingerprint: caFingerprint,
		CAName:        caName,
		RequestedAt:   time.Now(),
	}

	pending := &pendingRequest{
		request:  req,
		response: make(chan Response, 1),
	}

	b.mu.Lock()
	b.pending[req.ID] = pending
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, req.ID)
		b.mu.Unlock()
	}()

	if b.sink != nil {
		b.sink.Publish(req)
	}
	b.logEvent(ctx, req, "requested", false)

	if b.logger != nil {
		b.logger.Info("Passphrase requested",
			"request_id", req.ID,
			"ca_name", caName,
			"ca_fingerprint", caFingerprint,
		)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case resp := <-pending.response:
		if resp.Remember {
			b.cache.Put(caFingerprint, resp.Passphrase)
		}
		b.logEvent(ctx, req, "answered", resp.Remember)
		return resp.Passphrase, nil

	case <-timer.C:
		b.logEvent(ctx, req, "timeout", false)
		return "", fmt.Errorf("%w: %s", ErrPassphraseTimeout, caName)

	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Respond 投递操作员响应
func (b *Broker) Respond(requestID, passphrase string, remember bool) error {
	b.mu.Lock()
	pending, ok := b.pending[requestID]
	if ok {
		delete(b.pending, requestID)
	}
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}

	pending.response <- Response{Passphrase: passphrase, Remember: remember}
	return nil
}

// Pending 列出未完成的口令请求（操作员界面用）
func (b *Broker) Pending() []*PassphraseRequest {
	b.mu.Lock()
	defer b.mu.Unlock()

	requests := make([]*PassphraseRequest, 0, len(b.pending))
	for _, p := range b.pending {
		requests = append(requests, p.request)
	}
	return requests
}

// Cache 返回底层口令缓存
func (b *Broker) Cache() *Cache {
	return b.cache
}

func (b *Broker) logEvent(ctx context.Context, req *PassphraseRequest, action string, remembered bool) {
	if b.audit == nil {
		return
	}

	event := &logging.PassphraseEvent{
		RequestID:     req.ID,
		CAFingerprint: req.CAFingerprint,
		CAName:        req.CAName,
		Action:        action,
		Remembered:    remembered,
	}
	if err := b.audit.LogPassphrase(ctx, event); err != nil && b.logger != nil {
		b.logger.Warn("Audit passphrase event failed", "error", err)
	}
}
