package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureSink 记录推送的口令请求
type captureSink struct {
	mu       sync.Mutex
	requests []*PassphraseRequest
}

func (s *captureSink) Publish(req *PassphraseRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
}

func (s *captureSink) last() *PassphraseRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return nil
	}
	return s.requests[len(s.requests)-1]
}

func TestBroker_AcquireAndRespond(t *testing.T) {
	sink := &captureSink{}
	broker := NewBroker(NewCache(), sink, time.Minute, nil, nil)

	type result struct {
		passphrase string
		err        error
	}
	done := make(chan result, 1)

	go func() {
		passphrase, err := broker.Acquire(context.Background(), "sha256:ca", "ca.local")
		done <- result{passphrase, err}
	}()

	// 等待请求推送到 sink
	require.Eventually(t, func() bool { return sink.last() != nil }, time.Second, 10*time.Millisecond)

	req := sink.last()
	assert.Equal(t, "sha256:ca", req.CAFingerprint)
	assert.Equal(t, "ca.local", req.CAName)
	assert.NotEmpty(t, req.ID)

	require.NoError(t, broker.Respond(req.ID, "secret", false))

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "secret", res.passphrase)

	// remember 未置位时不缓存
	_, cached := broker.Cache().Get("sha256:ca")
	assert.False(t, cached)
}

func TestBroker_RememberCachesPassphrase(t *testing.T) {
	sink := &captureSink{}
	broker := NewBroker(NewCache(), sink, time.Minute, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := broker.Acquire(context.Background(), "sha256:ca", "ca.local")
		done <- err
	}()

	require.Eventually(t, func() bool { return sink.last() != nil }, time.Second, 10*time.Millisecond)
	require.NoError(t, broker.Respond(sink.last().ID, "secret", true))
	require.NoError(t, <-done)

	// 第二次获取直接命中缓存，不再推送请求
	passphrase, err := broker.Acquire(context.Background(), "sha256:ca", "ca.local")
	require.NoError(t, err)
	assert.Equal(t, "secret", passphrase)
	assert.Len(t, sink.requests, 1)
}

func TestBroker_Timeout(t *testing.T) {
	broker := NewBroker(NewCache(), nil, 50*time.Millisecond, nil, nil)

	start := time.Now()
	_, err := broker.Acquire(context.Background(), "sha256:ca", "ca.local")
	assert.ErrorIs(t, err, ErrPassphraseTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)

	// 超时后请求出队
	assert.Empty(t, broker.Pending())
}

func TestBroker_ContextCancelled(t *testing.T) {
	broker := NewBroker(NewCache(), nil, time.Minute, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := broker.Acquire(ctx, "sha256:ca", "ca.local")
		done <- err
	}()

	require.Eventually(t, func() bool { return len(broker.Pending()) == 1 }, time.Second, 10*time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestBroker_RespondUnknownRequest(t *testing.T) {
	broker := NewBroker(NewCache(), nil, time.Minute, nil, nil)

	err := broker.Respond("no-such-id", "secret", false)
	assert.ErrorIs(t, err, ErrUnknownRequest)
}

func TestBroker_ConcurrentRequestsIndependent(t *testing.T) {
	sink := &captureSink{}
	broker := NewBroker(NewCache(), sink, time.Minute, nil, nil)

	results := make(chan string, 2)
	for _, ca := range []string{"sha256:ca-a", "sha256:ca-b"} {
		go func(fingerprint string) {
			passphrase, err := broker.Acquire(context.Background(), fingerprint, fingerprint)
			if err != nil {
				results <- "error: " + err.Error()
				return
			}
			results <- passphrase
		}(ca)
	}

	require.Eventually(t, func() bool { return len(broker.Pending()) == 2 }, time.Second, 10*time.Millisecond)

	// 按指纹分别响应，互不影响
	for _, req := range broker.Pending() {
		require.NoError(t, broker.Respond(req.ID, "pass-for-"+req.CAFingerprint, false))
	}

	got := map[string]bool{<-results: true, <-results: true}
	assert.True(t, got["pass-for-sha256:ca-a"])
	assert.True(t, got["pass-for-sha256:ca-b"])
}

func TestCache_Forget(t *testing.T) {
	cache := NewCache()
	cache.Put("sha256:ca", "secret")

	passphrase, ok := cache.Get("sha256:ca")
	require.True(t, ok)
	assert.Equal(t, "secret", passphrase)

	cache.Forget("sha256:ca")
	_, ok = cache.Get("sha256:ca")
	assert.False(t, ok)
}
