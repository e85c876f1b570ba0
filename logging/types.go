package logging

import "time"

// RenewalEvent 续期事件
// 记录一次证书续期的结果（成功或失败）
type RenewalEvent struct {
	Timestamp      time.Time              `json:"timestamp"`
	OldFingerprint string                 `json:"old_fingerprint"`
	NewFingerprint string                 `json:"new_fingerprint,omitempty"`
	Name           string                 `json:"name"`
	CertClass      string                 `json:"cert_class"` // "root_ca", "intermediate_ca", "standard"
	Trigger        string                 `json:"trigger"`    // "scheduled", "manual"
	Result         string                 `json:"result"`     // "success", "failure"
	Reason         string                 `json:"reason,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
}

// DeployEvent 部署动作事件
// 记录续期后单个部署动作的执行结果
type DeployEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	Fingerprint string                 `json:"fingerprint"`
	ActionType  string                 `json:"action_type"` // "copy", "docker-restart", "command"
	Result      string                 `json:"result"`      // "success", "failure"
	Reason      string                 `json:"reason,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// PassphraseEvent 口令请求事件
// 记录签名口令的请求与响应过程
type PassphraseEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	RequestID     string    `json:"request_id"`
	CAFingerprint string    `json:"ca_fingerprint"`
	CAName        string    `json:"ca_name"`
	Action        string    `json:"action"` // "requested", "answered", "timeout"
	Remembered    bool      `json:"remembered,omitempty"`
}

// AuditFilter 审计日志查询过滤器
type AuditFilter struct {
	Fingerprint string    `json:"fingerprint,omitempty"`
	EventType   string    `json:"event_type,omitempty"` // "renewal", "deploy", "passphrase"
	Result      string    `json:"result,omitempty"`
	StartTime   time.Time `json:"start_time,omitempty"`
	EndTime     time.Time `json:"end_time,omitempty"`
	Limit       int       `json:"limit,omitempty"`
	Offset      int       `json:"offset,omitempty"`
}

// AuditLog 审计日志记录
// 通用审计日志结构，可以包含任意类型的事件
type AuditLog struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	EventType string                 `json:"event_type"` // "renewal", "deploy", "passphrase"
	Data      interface{}            `json:"data"`
	Indexed   map[string]interface{} `json:"indexed,omitempty"` // 用于快速查询的索引字段
}
