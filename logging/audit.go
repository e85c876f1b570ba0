package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditLogger 审计日志记录器接口
type AuditLogger interface {
	LogRenewal(ctx context.Context, event *RenewalEvent) error
	LogDeploy(ctx context.Context, event *DeployEvent) error
	LogPassphrase(ctx context.Context, event *PassphraseEvent) error
	Query(ctx context.Context, filter *AuditFilter) ([]*AuditLog, error)
}

// FileAuditLogger 基于文件的审计日志记录器
// 每个生命周期事件追加一行 JSON
type FileAuditLogger struct {
	outputPath string
	logger     Logger
	file       *os.File
	mu         sync.Mutex
	logs       []*AuditLog // 内存缓存，用于 Query（生产环境应使用数据库）
}

// NewFileAuditLogger 创建新的文件审计日志记录器
func NewFileAuditLogger(outputPath string, logger Logger) (*FileAuditLogger, error) {
	f, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open audit log file: %w", err)
	}

	return &FileAuditLogger{
		outputPath: outputPath,
		logger:     logger,
		file:       f,
		logs:       make([]*AuditLog, 0),
	}, nil
}

// LogRenewal 记录续期事件
func (a *FileAuditLogger) LogRenewal(ctx context.Context, event *RenewalEvent) error {
	if event == nil {
		return fmt.Errorf("renewal event cannot be nil")
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	auditLog := &AuditLog{
		ID:        uuid.NewString(),
		Timestamp: event.Timestamp,
		EventType: "renewal",
		Data:      event,
		Indexed: map[string]interface{}{
			"fingerprint": event.OldFingerprint,
			"cert_class":  event.CertClass,
			"result":      event.Result,
		},
	}

	// 续期失败同时记录到结构化日志
	if event.Result == "failure" {
		a.logger.Warn("Renewal failed",
			"name", event.Name,
			"fingerprint", event.OldFingerprint,
			"reason", event.Reason,
		)
	}

	return a.writeLog(auditLog)
}

// LogDeploy 记录部署动作事件
func (a *FileAuditLogger) LogDeploy(ctx context.Context, event *DeployEvent) error {
	if event == nil {
		return fmt.Errorf("deploy event cannot be nil")
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	auditLog := &AuditLog{
		ID:        uuid.NewString(),
		Timestamp: event.Timestamp,
		EventType: "deploy",
		Data:      event,
		Indexed: map[string]interface{}{
			"fingerprint": event.Fingerprint,
			"action_type": event.ActionType,
			"result":      event.Result,
		},
	}

	return a.writeLog(auditLog)
}

// LogPassphrase 记录口令请求事件
func (a *FileAuditLogger) LogPassphrase(ctx context.Context, event *PassphraseEvent) error {
	if event == nil {
		return fmt.Errorf("passphrase event cannot be nil")
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	auditLog := &AuditLog{
		ID:        uuid.NewString(),
		Timestamp: event.Timestamp,
		EventType: "passphrase",
		Data:      event,
		Indexed: map[string]interface{}{
			"fingerprint": event.CAFingerprint,
			"action":      event.Action,
		},
	}

	return a.writeLog(auditLog)
}

// Query 查询审计日志
// 注意：此实现使用内存缓存，仅适用于开发/测试环境
// 生产环境应使用数据库或专业日志系统
func (a *FileAuditLogger) Query(ctx context.Context, filter *AuditFilter) ([]*AuditLog, error) {
	if filter == nil {
		filter = &AuditFilter{}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var results []*AuditLog
	for _, log := range a.logs {
		if a.matchFilter(log, filter) {
			results = append(results, log)
		}
	}

	// 应用 Limit 和 Offset
	start := filter.Offset
	if start > len(results) {
		start = len(results)
	}

	end := len(results)
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}

	return results[start:end], nil
}

// matchFilter 检查日志是否匹配过滤条件
func (a *FileAuditLogger) matchFilter(log *AuditLog, filter *AuditFilter) bool {
	// 时间范围过滤
	if !filter.StartTime.IsZero() && log.Timestamp.Before(filter.StartTime) {
		return false
	}
	if !filter.EndTime.IsZero() && log.Timestamp.After(filter.EndTime) {
		return false
	}

	// 事件类型过滤
	if filter.EventType != "" && log.EventType != filter.EventType {
		return false
	}

	// 索引字段过滤
	if filter.Fingerprint != "" {
		if v, ok := log.Indexed["fingerprint"].(string); !ok || v != filter.Fingerprint {
			return false
		}
	}
	if filter.Result != "" {
		if v, ok := log.Indexed["result"].(string); !ok || v != filter.Result {
			return false
		}
	}

	return true
}

// writeLog 写入审计日志到文件
func (a *FileAuditLogger) writeLog(log *AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	// 序列化为 JSON
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("marshal audit log: %w", err)
	}

	// 写入文件
	if _, err := a.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}

	// 添加到内存缓存（生产环境应移除）
	a.logs = append(a.logs, log)

	return nil
}

// Close 关闭审计日志记录器
func (a *FileAuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file != nil {
		return a.file.Close()
	}
	return nil
}
