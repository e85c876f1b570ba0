package renewal

import (
	"fmt"
	"time"

	"github.com/houzhh15/certflow/cert"
	"github.com/houzhh15/certflow/policy"
)

// Decision 续期资格判定结果
type Decision struct {
	Due    bool   `json:"due"`
	Reason string `json:"reason"`
}

// Evaluator 续期资格评估器
// 标准证书用固定提前天数；CA 证书按配置有效期的剩余比例判定
type Evaluator struct{}

// NewEvaluator 创建评估器
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// caRenewalFraction CA 证书的续期阈值：剩余有效期 ≤ 配置总有效期的 25%
// CA 到期或泄露的影响面更大，故比标准证书阈值更保守；
// 按比例判定使 1 年期和 10 年期的根 CA 都能正确缩放
const caRenewalFraction = 0.25

// Evaluate 判定单个证书是否到期应续
func (e *Evaluator) Evaluate(record *cert.Record, pol *policy.CertificatePolicy, defaults policy.GlobalDefaults, now time.Time) Decision {
	if pol == nil || !pol.AutoRenew {
		return Decision{Due: false, Reason: "auto-renew disabled"}
	}

	if record.ValidTo.IsZero() {
		return Decision{Due: false, Reason: "expiry unknown"}
	}

	if record.IsCA() {
		return e.evaluateCA(record, defaults, now)
	}

	threshold := pol.RenewThreshold(defaults)
	renewAt := record.ValidTo.AddDate(0, 0, -threshold)
	if !now.Before(renewAt) {
		return Decision{
			Due:    true,
			Reason: fmt.Sprintf("expires %s, within %d day threshold", record.ValidTo.Format("2006-01-02"), threshold),
		}
	}

	return Decision{
		Due:    false,
		Reason: fmt.Sprintf("expires %s, outside %d day threshold", record.ValidTo.Format("2006-01-02"), threshold),
	}
}

// evaluateCA CA 证书的比例判定
func (e *Evaluator) evaluateCA(record *cert.Record, defaults policy.GlobalDefaults, now time.Time) Decision {
	totalDays := defaults.RootCADays
	if record.Class == cert.ClassIntermediateCA {
		totalDays = defaults.IntermediateCADays
	}
	if totalDays <= 0 {
		return Decision{Due: false, Reason: "no configured validity period for class"}
	}

	remaining := record.ValidTo.Sub(now)
	limit := time.Duration(float64(totalDays) * 24 * float64(time.Hour) * caRenewalFraction)

	if remaining <= limit {
		return Decision{
			Due: true,
			Reason: fmt.Sprintf("%.0f days remaining, at or below 25%% of %d day validity",
				remaining.Hours()/24, totalDays),
		}
	}

	return Decision{
		Due: false,
		Reason: fmt.Sprintf("%.0f days remaining, above 25%% of %d day validity",
			remaining.Hours()/24, totalDays),
	}
}
