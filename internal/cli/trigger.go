package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewTriggerCmd создаёт группу команд для триггеров инстанса.
func NewTriggerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Inspect scheduled triggers",
	}

	cmd.AddCommand(newTriggerListCmd(clientFn, outputFn))

	return cmd
}

func newTriggerListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recurring triggers and reminders of the instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			triggers, err := clientFn().ListTriggers()
			if err != nil {
				return err
			}

			headers := []string{"ID", "CRON", "NEXT_FIRE", "ONE_SHOT"}
			rows := make([][]string, len(triggers))
			for i, t := range triggers {
				rows[i] = []string{t.ID, t.CronExpr, t.NextFireAt, strconv.FormatBool(t.OneShot)}
			}

			outputFn().Print(headers, rows, triggers)
			return nil
		},
	}
}

// NewCronCmd создаёт команду предпросмотра cron-выражений.
func NewCronCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Cron expression tools",
	}

	var tz string
	var count int

	next := &cobra.Command{
		Use:   "next EXPR",
		Short: "Show next fire times of a Quartz cron expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := clientFn().CronNext(args[0], tz, count)
			if err != nil {
				return err
			}

			rows := make([][]string, len(resp.Next))
			for i, t := range resp.Next {
				rows[i] = []string{strconv.Itoa(i + 1), t}
			}

			outputFn().Print([]string{"#", "FIRE_TIME"}, rows, resp)
			return nil
		},
	}
	next.Flags().StringVar(&tz, "tz", "UTC", "Time zone")
	next.Flags().IntVar(&count, "count", 5, "Number of fire times")

	cmd.AddCommand(next)
	return cmd
}
