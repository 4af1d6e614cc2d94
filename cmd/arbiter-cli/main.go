// Arbiter CLI — инструмент командной строки для admin API планировщика.
//
// Использование:
//
//	arbiter [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	flow     Управление flows и ручной запуск
//	dag      Checkpoint'ы DAG
//	action   Записи lease
//	trigger  Триггеры инстанса
//	cron     Предпросмотр cron-выражений
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Arbiter/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "arbiter",
		Short:         "Arbiter CLI — lease-arbitrated flow scheduler",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := "http://localhost:8081"
	if v := os.Getenv("ARBITER_API_URL"); v != "" {
		defaultURL = v
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "Scheduler admin API URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewFlowCmd(clientFn, outputFn),
		cli.NewDagCmd(clientFn, outputFn),
		cli.NewActionCmd(clientFn, outputFn),
		cli.NewTriggerCmd(clientFn, outputFn),
		cli.NewCronCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
