package main

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/John-Robertt/recallasin/internal/domain"
)

func repoRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("读取 cwd 失败：%v", err)
	}
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}

func TestCLI_UPCOffline(t *testing.T) {
	cmd := exec.Command("go", "run", "./cmd/recallasin", "upc", "08606920030")
	cmd.Dir = repoRoot(t)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("命令执行失败：%v\nstderr=%s", err, stderr.String())
	}
	if strings.TrimSpace(stdout.String()) != "086069200308" {
		t.Fatalf("输出不符合预期：%q", stdout.String())
	}
}

func TestCLI_NoTTY_StdoutOnlyRunReportJSON(t *testing.T) {
	// 这个测试锁定对外契约：stdout 非 TTY 时只能输出一个 RunReport JSON。
	// 空目录下没有 recallasin.json，也没有给出输入：期望 config_not_found，且不触网。
	cwd := t.TempDir()

	bin := filepath.Join(t.TempDir(), "recallasin")
	build := exec.Command("go", "build", "-o", bin, "./cmd/recallasin")
	build.Dir = repoRoot(t)
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("构建失败：%v\n%s", err, out)
	}

	cmd := exec.Command(bin, "resolve")
	cmd.Dir = cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	_ = cmd.Run() // 配置错误：退出码 1

	var rr domain.RunReport
	if err := json.Unmarshal(stdout.Bytes(), &rr); err != nil {
		t.Fatalf("stdout 不是合法的 RunReport JSON：%v\nstdout=%q", err, stdout.String())
	}
	if len(rr.Items) != 1 || rr.Items[0].ErrorCode != domain.ErrCodeConfigNotFound {
		t.Fatalf("期望 config_not_found，实际 %+v", rr.Items)
	}
	if !strings.Contains(stderr.String(), "完成：resolved=") {
		t.Fatalf("stderr 缺少完成摘要：%q", stderr.String())
	}
}
