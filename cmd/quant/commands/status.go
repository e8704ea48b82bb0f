package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "실행 상태 모니터링",
	Long: `실행 중인 전략 작업의 진행 상황을 실시간으로 조회합니다.

Example:
  go run ./cmd/quant status watch <execution-id>
  go run ./cmd/quant status watch <execution-id> --refresh 2s --host http://localhost:8089`,
}

// statusWatchCmd polls a running API server's progress endpoint for one
// execution id until it reaches a terminal state.
var statusWatchCmd = &cobra.Command{
	Use:   "watch <execution-id>",
	Short: "진행 상황 조회",
	Long: `API 서버의 /api/strategies/executions/{id}/progress 엔드포인트를
주기적으로 조회하여 표시합니다.

Example:
  go run ./cmd/quant status watch 3f9a2b1c
  go run ./cmd/quant status watch 3f9a2b1c --refresh 1s`,
	Args: cobra.ExactArgs(1),
	RunE: runStatusWatch,
}

var (
	statusRefresh time.Duration
	statusHost    string
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.AddCommand(statusWatchCmd)

	statusWatchCmd.Flags().DurationVar(&statusRefresh, "refresh", 2*time.Second, "갱신 간격")
	statusWatchCmd.Flags().StringVar(&statusHost, "host", "http://localhost:8089", "API 서버 주소")
}

type progressView struct {
	JobID          string  `json:"job_id"`
	State          string  `json:"state"`
	Stage          string  `json:"stage"`
	ProgressPct    int     `json:"progress_pct"`
	AnalyzedCount  int     `json:"analyzed_count"`
	QualifiedCount int     `json:"qualified_count"`
	SkippedCount   int     `json:"skipped_count"`
	TotalCount     int     `json:"total_count"`
	CurrentTicker  string  `json:"current_ticker"`
	Elapsed        float64 `json:"elapsed_seconds"`
	Cancelled      bool    `json:"cancelled"`
}

func runStatusWatch(cmd *cobra.Command, args []string) error {
	id := args[0]
	url := fmt.Sprintf("%s/api/strategies/executions/%s/progress", statusHost, id)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(statusRefresh)
	defer ticker.Stop()

	client := &http.Client{Timeout: 5 * time.Second}

	poll := func() (bool, error) {
		pv, err := fetchProgress(client, url)
		if err != nil {
			PrintError(fmt.Sprintf("poll failed: %v", err))
			return false, nil
		}
		fmt.Print("\033[H\033[2J")
		displayProgress(pv)
		terminal := pv.State == "completed" || pv.State == "failed" || pv.State == "cancelled"
		return terminal, nil
	}

	if done, err := poll(); err != nil || done {
		return err
	}

	for {
		select {
		case <-sigChan:
			fmt.Println("\n✅ Status monitor stopped")
			return nil
		case <-ticker.C:
			done, err := poll()
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func fetchProgress(client *http.Client, url string) (progressView, error) {
	resp, err := client.Get(url)
	if err != nil {
		return progressView{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return progressView{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return progressView{}, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	var pv progressView
	if err := json.Unmarshal(body, &pv); err != nil {
		return progressView{}, err
	}
	return pv, nil
}

func displayProgress(pv progressView) {
	fmt.Println("=== Strategy Execution Status ===")
	fmt.Printf("Last update: %s\n\n", time.Now().Format("15:04:05"))

	PrintKeyValue("Job ID", pv.JobID, 16)
	PrintKeyValue("State", pv.State, 16)
	PrintKeyValue("Stage", pv.Stage, 16)
	PrintKeyValue("Progress", fmt.Sprintf("%d%%", pv.ProgressPct), 16)
	PrintKeyValue("Analyzed", fmt.Sprintf("%d/%d", pv.AnalyzedCount, pv.TotalCount), 16)
	PrintKeyValue("Qualified", fmt.Sprintf("%d", pv.QualifiedCount), 16)
	PrintKeyValue("Skipped", fmt.Sprintf("%d", pv.SkippedCount), 16)
	if pv.CurrentTicker != "" {
		PrintKeyValue("Current ticker", pv.CurrentTicker, 16)
	}
	PrintKeyValue("Elapsed", fmt.Sprintf("%.1fs", pv.Elapsed), 16)
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")
}
