package hierarchy

import (
	"github.com/houzhh15/certflow/cert"
	"github.com/houzhh15/certflow/logging"
)

// UnattachedGroup 孤儿证书虚拟分组的名称
const UnattachedGroup = "Unattached"

// Node 层级节点（每次构建时新建，绝不持久化）
type Node struct {
	Record   *cert.Record `json:"record,omitempty"` // 虚拟分组节点为 nil
	Name     string       `json:"name"`
	Virtual  bool         `json:"virtual,omitempty"` // 无证书支撑的分组节点
	Children []*Node      `json:"children,omitempty"`
}

// Builder 层级构建器
// 将平铺的证书记录集合重建为以自签名 CA 为根的森林
type Builder struct {
	logger logging.Logger
}

// NewBuilder 创建层级构建器
func NewBuilder(logger logging.Logger) *Builder {
	return &Builder{logger: logger}
}

// Build 构建证书层级森林
// 匹配规则：CA 之间只信任密钥标识（AKI→SKI）；标准证书优先密钥标识，
// 双方标识都缺失时退回到签发者名称匹配（保留原系统的弱启发式，不加强）
func (b *Builder) Build(records []*cert.Record) []*Node {
	var roots, intermediates, standards []*Node

	// 按指纹去重，首次出现者保留
	seen := make(map[string]bool)
	for _, record := range records {
		if record == nil || seen[record.Fingerprint] {
			continue
		}
		seen[record.Fingerprint] = true

		node := &Node{Record: record, Name: record.Name}
		switch record.Class {
		case cert.ClassRootCA:
			roots = append(roots, node)
		case cert.ClassIntermediateCA:
			intermediates = append(intermediates, node)
		default:
			standards = append(standards, node)
		}
	}

	// SKI 索引：重复 SKI 时首次出现者生效（畸形输入，不自动纠正）
	bySKI := make(map[string]*Node)
	index := func(nodes []*Node) {
		for _, node := range nodes {
			ski := node.Record.SubjectKeyID
			if ski == "" {
				continue
			}
			if existing, ok := bySKI[ski]; ok {
				if b.logger != nil {
					b.logger.Warn("Duplicate subject key id, keeping first",
						"ski", ski,
						"kept", existing.Record.Fingerprint,
						"ignored", node.Record.Fingerprint,
					)
				}
				continue
			}
			bySKI[ski] = node
		}
	}
	index(roots)
	index(intermediates)

	forest := make([]*Node, 0, len(roots))
	forest = append(forest, roots...)

	// 中间 CA：AKI→SKI 匹配；不匹配者成为合成根
	for _, node := range intermediates {
		parent := bySKI[node.Record.AuthorityKeyID]
		if parent == nil || parent == node || isAncestor(node, parent) {
			forest = append(forest, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}

	// 标准证书：AKI→SKI 匹配，标识缺失时按签发者名称匹配；
	// 不匹配者归入惰性创建的 Unattached 分组
	var unattached *Node
	for _, node := range standards {
		parent := b.findIssuer(node.Record, bySKI, roots, intermediates)
		if parent != nil {
			parent.Children = append(parent.Children, node)
			continue
		}

		if unattached == nil {
			unattached = &Node{Name: UnattachedGroup, Virtual: true}
			forest = append(forest, unattached)
		}
		unattached.Children = append(unattached.Children, node)
	}

	return forest
}

// findIssuer 定位标准证书的签发 CA
func (b *Builder) findIssuer(record *cert.Record, bySKI map[string]*Node, roots, intermediates []*Node) *Node {
	if record.AuthorityKeyID != "" {
		return bySKI[record.AuthorityKeyID]
	}

	// 名称退回匹配：两个不同 CA 可能共享同一主题名，按输入顺序取首个
	for _, node := range intermediates {
		if node.Record.Subject == record.Issuer {
			return node
		}
	}
	for _, node := range roots {
		if node.Record.Subject == record.Issuer {
			return node
		}
	}
	return nil
}

// isAncestor 判断 candidate 是否已是 node 的后代（防止畸形输入形成环）
func isAncestor(node, candidate *Node) bool {
	for _, child := range node.Children {
		if child == candidate || isAncestor(child, candidate) {
			return true
		}
	}
	return false
}
