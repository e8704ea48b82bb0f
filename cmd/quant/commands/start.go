package commands

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// backendCmd represents the backend command group
var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "백엔드 서버 관련 명령어",
	Long:  `백엔드 서버 시작, 중지 등의 명령어를 제공합니다.`,
}

// killProcessOnPort kills any process listening on the specified port
func killProcessOnPort(port string) error {
	// lsof로 포트 사용 중인 PID 찾기
	cmd := exec.Command("lsof", "-ti", fmt.Sprintf(":%s", port))
	output, err := cmd.Output()
	if err != nil {
		// 에러면 포트가 사용 중이 아님
		return nil
	}

	// PID 파싱 및 kill
	pids := strings.Split(strings.TrimSpace(string(output)), "\n")
	for _, pidStr := range pids {
		if pidStr == "" {
			continue
		}
		pid, err := strconv.Atoi(pidStr)
		if err != nil {
			continue
		}

		fmt.Printf("🔄 기존 프로세스 종료 중 (PID: %d, Port: %s)...\n", pid, port)

		// kill 프로세스
		killCmd := exec.Command("kill", "-9", pidStr)
		if err := killCmd.Run(); err != nil {
			return fmt.Errorf("프로세스 종료 실패 (PID: %d): %w", pid, err)
		}
	}

	return nil
}

// backendStartCmd starts the backend API server
var backendStartCmd = &cobra.Command{
	Use:   "start",
	Short: "백엔드 API 서버 시작 (포트 8089)",
	Long: `백엔드 API 서버를 시작합니다.

기본 포트: 8089
기존 프로세스가 실행 중이면 자동으로 종료 후 재시작합니다.

Example:
  go run ./cmd/quant backend start
  go run ./cmd/quant backend start --port 8090`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 기존 포트 사용 중인 프로세스 종료
		if err := killProcessOnPort(apiPort); err != nil {
			return err
		}

		// api 명령어를 직접 실행
		return runAPIServer(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(backendCmd)

	// backend 서브커맨드
	backendCmd.AddCommand(backendStartCmd)
	backendStartCmd.Flags().StringVar(&apiPort, "port", "8089", "API 서버 포트")
}
