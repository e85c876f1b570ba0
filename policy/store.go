package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/houzhh15/certflow/deploy"
)

// ErrPolicyNotFound 指纹对应的策略不存在
var ErrPolicyNotFound = errors.New("policy not found")

// Store 策略存储接口（抽象存储层）
type Store interface {
	Get(ctx context.Context, fingerprint string) (*CertificatePolicy, error)
	Set(ctx context.Context, policy *CertificatePolicy) error
	Remove(ctx context.Context, fingerprint string) error
	List(ctx context.Context) ([]*CertificatePolicy, error)
	GlobalDefaults() GlobalDefaults
}

// policyDBModel 数据库模型（用于 GORM）
type policyDBModel struct {
	ID                    uint   `gorm:"primarykey"`
	Fingerprint           string `gorm:"uniqueIndex"`
	AutoRenew             bool
	RenewDaysBeforeExpiry int
	CASign                *bool
	DomainsJSON           string `gorm:"type:text"` // JSON 序列化的域名列表
	DeployActionsJSON     string `gorm:"type:text"` // JSON 序列化的部署动作列表
	PreviousVersionsJSON  string `gorm:"type:text"` // JSON 序列化的历史版本
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (policyDBModel) TableName() string {
	return "certificate_policies"
}

// DBStore 数据库存储实现
// 写操作按键互斥，保证并发续期下的读改写不丢更新
type DBStore struct {
	db       *gorm.DB
	defaults GlobalDefaults
	mu       sync.RWMutex
}

// NewDBStore 创建数据库存储
func NewDBStore(db *gorm.DB, defaults GlobalDefaults) (*DBStore, error) {
	if err := db.AutoMigrate(&policyDBModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate policy table: %w", err)
	}

	return &DBStore{db: db, defaults: defaults}, nil
}

// Get 按指纹获取策略，不存在时返回 ErrPolicyNotFound
func (s *DBStore) Get(ctx context.Context, fingerprint string) (*CertificatePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var model policyDBModel
	result := s.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).First(&model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, fingerprint)
		}
		return nil, fmt.Errorf("get policy: %w", result.Error)
	}

	return s.fromDBModel(&model)
}

// GetOrDefault 按指纹获取策略，不存在时返回全局默认形状的策略
func (s *DBStore) GetOrDefault(ctx context.Context, fingerprint string) (*CertificatePolicy, error) {
	policy, err := s.Get(ctx, fingerprint)
	if err == nil {
		return policy, nil
	}
	if errors.Is(err, ErrPolicyNotFound) {
		return DefaultPolicy(fingerprint, s.defaults), nil
	}
	return nil, err
}

// Set 保存策略（已存在则更新）
func (s *DBStore) Set(ctx context.Context, policy *CertificatePolicy) error {
	if policy == nil || policy.Fingerprint == "" {
		return fmt.Errorf("policy fingerprint is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = time.Now()
	}
	policy.UpdatedAt = time.Now()

	model, err := s.toDBModel(policy)
	if err != nil {
		return fmt.Errorf("convert to db model: %w", err)
	}

	// 按唯一索引更新或创建
	var existing policyDBModel
	result := s.db.WithContext(ctx).Where("fingerprint = ?", policy.Fingerprint).First(&existing)
	if result.Error == nil {
		model.ID = existing.ID
		model.CreatedAt = existing.CreatedAt
	} else if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return fmt.Errorf("lookup policy: %w", result.Error)
	}

	if err := s.db.WithContext(ctx).Save(model).Error; err != nil {
		return fmt.Errorf("save policy: %w", err)
	}

	return nil
}

// Remove 删除策略
func (s *DBStore) Remove(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := s.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).Delete(&policyDBModel{})
	if result.Error != nil {
		return fmt.Errorf("remove policy: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrPolicyNotFound, fingerprint)
	}

	return nil
}

// List 列出所有策略
func (s *DBStore) List(ctx context.Context) ([]*CertificatePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var models []policyDBModel
	if err := s.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}

	policies := make([]*CertificatePolicy, 0, len(models))
	for i := range models {
		policy, err := s.fromDBModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("convert policy %s: %w", models[i].Fingerprint, err)
		}
		policies = append(policies, policy)
	}

	return policies, nil
}

// GlobalDefaults 返回全局默认值
func (s *DBStore) GlobalDefaults() GlobalDefaults {
	return s.defaults
}

// DefaultPolicy 构造默认形状的策略（未持久化）
func DefaultPolicy(fingerprint string, defaults GlobalDefaults) *CertificatePolicy {
	return &CertificatePolicy{
		Fingerprint:           fingerprint,
		AutoRenew:             false,
		RenewDaysBeforeExpiry: defaults.RenewDaysBeforeExpiry,
	}
}

// toDBModel 转换为数据库模型
func (s *DBStore) toDBModel(policy *CertificatePolicy) (*policyDBModel, error) {
	model := &policyDBModel{
		Fingerprint:           policy.Fingerprint,
		AutoRenew:             policy.AutoRenew,
		RenewDaysBeforeExpiry: policy.RenewDaysBeforeExpiry,
		CASign:                policy.CASign,
		CreatedAt:             policy.CreatedAt,
		UpdatedAt:             policy.UpdatedAt,
	}

	if len(policy.Domains) > 0 {
		data, err := json.Marshal(policy.Domains)
		if err != nil {
			return nil, fmt.Errorf("marshal domains: %w", err)
		}
		model.DomainsJSON = string(data)
	}

	if len(policy.DeployActions) > 0 {
		data, err := json.Marshal(policy.DeployActions)
		if err != nil {
			return nil, fmt.Errorf("marshal deploy actions: %w", err)
		}
		model.DeployActionsJSON = string(data)
	}

	if len(policy.PreviousVersions) > 0 {
		data, err := json.Marshal(policy.PreviousVersions)
		if err != nil {
			return nil, fmt.Errorf("marshal previous versions: %w", err)
		}
		model.PreviousVersionsJSON = string(data)
	}

	return model, nil
}

// fromDBModel 从数据库模型转换
func (s *DBStore) fromDBModel(model *policyDBModel) (*CertificatePolicy, error) {
	policy := &CertificatePolicy{
		Fingerprint:           model.Fingerprint,
		AutoRenew:             model.AutoRenew,
		RenewDaysBeforeExpiry: model.RenewDaysBeforeExpiry,
		CASign:                model.CASign,
		CreatedAt:             model.CreatedAt,
		UpdatedAt:             model.UpdatedAt,
	}

	if model.DomainsJSON != "" {
		if err := json.Unmarshal([]byte(model.DomainsJSON), &policy.Domains); err != nil {
			return nil, fmt.Errorf("unmarshal domains: %w", err)
		}
	}

	if model.DeployActionsJSON != "" {
		var actions []deploy.Action
		if err := json.Unmarshal([]byte(model.DeployActionsJSON), &actions); err != nil {
			return nil, fmt.Errorf("unmarshal deploy actions: %w", err)
		}
		policy.DeployActions = actions
	}

	if model.PreviousVersionsJSON != "" {
		if err := json.Unmarshal([]byte(model.PreviousVersionsJSON), &policy.PreviousVersions); err != nil {
			return nil, fmt.Errorf("unmarshal previous versions: %w", err)
		}
	}

	return policy, nil
}
