package deploy

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ContainerRuntime 容器运行时协作方
// 完整实现由外部提供，引擎只需要重启能力
type ContainerRuntime interface {
	Restart(ctx context.Context, containerID string) error
}

// ExecRuntime 基于 docker CLI 的默认实现
type ExecRuntime struct {
	binary string
}

// NewExecRuntime 创建默认容器运行时
func NewExecRuntime() *ExecRuntime {
	return &ExecRuntime{binary: "docker"}
}

// Restart 执行 docker restart
func (r *ExecRuntime) Restart(ctx context.Context, containerID string) error {
	if containerID == "" {
		return fmt.Errorf("docker-restart action requires a container id")
	}

	cmd := exec.CommandContext(ctx, r.binary, "restart", containerID)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("restart container %s: %w: %s", containerID, err, strings.TrimSpace(string(out)))
	}
	return nil
}
