package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	env        string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quant",
	Short: "A-Share Strategy Engine CLI",
	Long: `A-Share Strategy Engine Unified CLI

Tushare/AKShare 기반 A주 스크리닝 전략 실행 시스템.
전략 정의(YAML) → 유니버스 해석 → 지표 계산 → 스코어링 → 랭킹.

Usage:
  go run ./cmd/quant [command]

Examples:
  go run ./cmd/quant api
  go run ./cmd/quant worker run --strategy blue_chip_stable
  go run ./cmd/quant status watch <execution-id>
  go run ./cmd/quant test-db
  go run ./cmd/quant test-logger`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// An explicit --env overrides ENV for config.Load.
		if cmd.Flags().Changed("env") {
			os.Setenv("ENV", env)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().StringVar(&env, "env", "development", "environment (development|staging|production)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
