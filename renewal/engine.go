package renewal

import (
	"context"
	"errors"
	"time"

	"github.com/houzhh15/certflow/cert"
	"github.com/houzhh15/certflow/logging"
	"github.com/houzhh15/certflow/policy"
)

// BatchSummary 一轮批量续期的汇总
type BatchSummary struct {
	Evaluated int       `json:"evaluated"`
	Due       int       `json:"due"`
	Renewed   []*Result `json:"renewed,omitempty"`
	Failed    int       `json:"failed"`
}

// Engine 生命周期引擎的批处理入口
// 标准证书先评估并续期完毕，之后才轮到 CA 证书：同一轮中的 CA 续期
// 不能与仍依赖旧 CA 密钥的叶子续期竞速
type Engine struct {
	evaluator    *Evaluator
	orchestrator *Orchestrator
	store        policy.Store
	logger       logging.Logger
}

// NewEngine 创建批处理引擎
func NewEngine(evaluator *Evaluator, orchestrator *Orchestrator, store policy.Store, logger logging.Logger) *Engine {
	return &Engine{
		evaluator:    evaluator,
		orchestrator: orchestrator,
		store:        store,
		logger:       logger,
	}
}

// RunBatch 对整个证书集合执行一轮评估与续期
// 单个证书的输入错误只跳过该证书；引擎自身从不重试，重试由调度器的下一轮负责
func (e *Engine) RunBatch(ctx context.Context, records []*cert.Record) *BatchSummary {
	summary := &BatchSummary{}

	var standards, cas []*cert.Record
	for _, record := range records {
		if record.IsCA() {
			cas = append(cas, record)
		} else {
			standards = append(standards, record)
		}
	}

	e.processClass(ctx, standards, records, summary)
	e.processClass(ctx, cas, records, summary)

	if e.logger != nil {
		e.logger.Info("Renewal batch finished",
			"evaluated", summary.Evaluated,
			"due", summary.Due,
			"renewed", len(summary.Renewed),
			"failed", summary.Failed,
		)
	}

	return summary
}

// processClass 依次评估并续期到完成
func (e *Engine) processClass(ctx context.Context, batch, pool []*cert.Record, summary *BatchSummary) {
	defaults := e.store.GlobalDefaults()
	now := time.Now()

	for _, record := range batch {
		pol, err := e.store.Get(ctx, record.Fingerprint)
		if err != nil {
			if !errors.Is(err, policy.ErrPolicyNotFound) {
				if e.logger != nil {
					e.logger.Warn("Skipping certificate, policy unreadable",
						"fingerprint", record.Fingerprint, "error", err)
				}
				continue
			}
			pol = policy.DefaultPolicy(record.Fingerprint, defaults)
		}

		summary.Evaluated++

		decision := e.evaluator.Evaluate(record, pol, defaults, now)
		recordDecision(string(record.Class), decision.Due)
		if !decision.Due {
			if e.logger != nil {
				e.logger.Debug("Certificate not due",
					"name", record.Name, "reason", decision.Reason)
			}
			continue
		}

		summary.Due++
		if e.logger != nil {
			e.logger.Info("Certificate due for renewal",
				"name", record.Name,
				"class", record.Class,
				"reason", decision.Reason,
			)
		}

		result, err := e.orchestrator.Renew(ctx, record, pool, "scheduled")
		if err != nil {
			summary.Failed++
			if e.logger != nil {
				e.logger.Error("Renewal failed",
					"name", record.Name,
					"fingerprint", record.Fingerprint,
					"error", err,
				)
			}
			continue
		}

		summary.Renewed = append(summary.Renewed, result)
	}
}
