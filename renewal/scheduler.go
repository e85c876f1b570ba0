package renewal

import (
	"context"
	"sync"
	"time"

	"github.com/houzhh15/certflow/cert"
	"github.com/houzhh15/certflow/logging"
)

// Source 证书集合的提供方
// 默认实现是证书目录扫描，测试中可替换为固定集合
type Source func(ctx context.Context) ([]*cert.Record, error)

// Scheduler 定时调度器
// 固定间隔触发一轮批量续期，进程启动后短延迟先跑一轮
type Scheduler struct {
	engine       *Engine
	source       Source
	interval     time.Duration
	initialDelay time.Duration
	logger       logging.Logger

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler 创建调度器
func NewScheduler(engine *Engine, source Source, interval, initialDelay time.Duration, logger logging.Logger) *Scheduler {
	if interval == 0 {
		interval = 12 * time.Hour
	}
	if initialDelay == 0 {
		initialDelay = 30 * time.Second
	}

	return &Scheduler{
		engine:       engine,
		source:       source,
		interval:     interval,
		initialDelay: initialDelay,
		logger:       logger,
		stopChan:     make(chan struct{}),
	}
}

// Start 启动调度循环
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		initial := time.NewTimer(s.initialDelay)
		defer initial.Stop()

		select {
		case <-initial.C:
			s.runOnce(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runOnce(ctx)
			case <-s.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop 停止调度器并等待当前一轮结束
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// runOnce 执行一轮评估与续期
func (s *Scheduler) runOnce(ctx context.Context) {
	records, err := s.source(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("Certificate discovery failed", "error", err)
		}
		return
	}

	if s.logger != nil {
		s.logger.Debug("Renewal pass starting", "certificates", len(records))
	}

	s.engine.RunBatch(ctx, records)
}
