package deploy

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/houzhh15/certflow/cert"
	"github.com/houzhh15/certflow/logging"
)

// ActionType 部署动作类型
type ActionType string

const (
	ActionCopy          ActionType = "copy"           // 复制证书和私钥到目标位置
	ActionDockerRestart ActionType = "docker-restart" // 重启依赖容器
	ActionCommand       ActionType = "command"        // 执行运维命令
)

// Action 单个部署动作
type Action struct {
	Type        ActionType `json:"type"`
	Destination string     `json:"destination,omitempty"`  // copy：目标文件或目录
	ContainerID string     `json:"container_id,omitempty"` // docker-restart：容器名称或 ID
	Command     string     `json:"command,omitempty"`      // command：shell 命令
}

// ActionResult 单个动作的执行结果
type ActionResult struct {
	Action  Action `json:"action"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Output  string `json:"output,omitempty"`
}

// Report 整体执行报告
// Success 为所有动作结果的 AND
type Report struct {
	Success bool           `json:"success"`
	Results []ActionResult `json:"results"`
}

// Runner 部署动作执行器
// 严格顺序执行且不短路：单个动作失败只记录，不中断后续动作
type Runner struct {
	runtime ContainerRuntime
	logger  logging.Logger
	audit   logging.AuditLogger
}

// NewRunner 创建执行器，runtime 为 nil 时使用 docker CLI
func NewRunner(runtime ContainerRuntime, logger logging.Logger, audit logging.AuditLogger) *Runner {
	if runtime == nil {
		runtime = NewExecRuntime()
	}
	return &Runner{runtime: runtime, logger: logger, audit: audit}
}

// Run 依次执行动作列表
func (r *Runner) Run(ctx context.Context, record *cert.Record, actions []Action) *Report {
	report := &Report{Success: true}

	for _, action := range actions {
		result := r.runOne(ctx, record, action)
		recordAction(action.Type, result.Success)
		if !result.Success {
			report.Success = false
			if r.logger != nil {
				r.logger.Error("Deploy action failed",
					"type", action.Type,
					"fingerprint", record.Fingerprint,
					"error", result.Error,
				)
			}
		}
		report.Results = append(report.Results, result)

		if r.audit != nil {
			event := &logging.DeployEvent{
				Fingerprint: record.Fingerprint,
				ActionType:  string(action.Type),
				Result:      resultString(result.Success),
				Reason:      result.Error,
			}
			if err := r.audit.LogDeploy(ctx, event); err != nil && r.logger != nil {
				r.logger.Warn("Audit deploy event failed", "error", err)
			}
		}
	}

	return report
}

// runOne 执行单个动作，未知类型产生失败结果而不是 panic
func (r *Runner) runOne(ctx context.Context, record *cert.Record, action Action) ActionResult {
	result := ActionResult{Action: action}

	var err error
	var output string

	switch action.Type {
	case ActionCopy:
		err = r.runCopy(record, action.Destination)
	case ActionDockerRestart:
		err = r.runtime.Restart(ctx, action.ContainerID)
	case ActionCommand:
		output, err = r.runCommand(ctx, action.Command)
	default:
		err = fmt.Errorf("unknown action type: %s", action.Type)
	}

	result.Output = output
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Success = true
	return result
}

// runCopy 复制证书和私钥
// 目录目标保留原文件名；文件目标以替换扩展名的方式派生私钥目标名
func (r *Runner) runCopy(record *cert.Record, destination string) error {
	if destination == "" {
		return fmt.Errorf("copy action requires a destination")
	}
	if record.CertPath == "" {
		return fmt.Errorf("certificate has no file path")
	}

	keyPath, err := findKey(record)
	if err != nil {
		return err
	}

	certDest := destination
	keyDest := destination

	if info, statErr := os.Stat(destination); statErr == nil && info.IsDir() {
		certDest = filepath.Join(destination, filepath.Base(record.CertPath))
		keyDest = filepath.Join(destination, filepath.Base(keyPath))
	} else {
		keyDest = strings.TrimSuffix(destination, filepath.Ext(destination)) + ".key"
	}

	if err := copyFile(record.CertPath, certDest); err != nil {
		return fmt.Errorf("copy certificate: %w", err)
	}
	if err := copyFile(keyPath, keyDest); err != nil {
		return fmt.Errorf("copy private key: %w", err)
	}

	return nil
}

// runCommand 执行运维提供的 shell 命令
// 挂起的命令是已知的运维风险，引擎不负责中途取消
func (r *Runner) runCommand(ctx context.Context, command string) (string, error) {
	if command == "" {
		return "", fmt.Errorf("command action requires a command")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("command failed: %w", err)
	}
	return string(out), nil
}

// findKey 定位私钥文件
// 查找顺序：配置的精确路径 → 常规同名文件 → 证书目录下任意 *.key
func findKey(record *cert.Record) (string, error) {
	if record.KeyPath != "" {
		if _, err := os.Stat(record.KeyPath); err == nil {
			return record.KeyPath, nil
		}
	}

	if sibling := cert.SiblingKeyPath(record.CertPath); sibling != "" {
		return sibling, nil
	}

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(record.CertPath), "*.key"))
	if len(matches) > 0 {
		return matches[0], nil
	}

	return "", fmt.Errorf("private key not found for %s", record.CertPath)
}

// copyFile 复制文件内容，私钥目标使用 0600 权限
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	perm := os.FileMode(0644)
	if strings.HasSuffix(dst, ".key") {
		perm = 0600
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func resultString(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
