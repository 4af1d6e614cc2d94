package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewActionCmd создаёт группу команд для записей lease.
func NewActionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "action",
		Short: "Inspect DAG action leases",
	}

	cmd.AddCommand(
		newActionListCmd(clientFn, outputFn),
		newActionShowCmd(clientFn, outputFn),
		newActionDeleteCmd(clientFn, outputFn),
	)

	return cmd
}

var actionHeaders = []string{"TYPE", "FLOW", "EXEC_ID", "JOB", "OWNER", "EVENT_TIME", "STATE"}

func actionRow(a ActionResponse) []string {
	return []string{
		a.ActionType,
		a.FlowGroup + "." + a.FlowName,
		strconv.FormatInt(a.FlowExecutionID, 10),
		orDash(a.JobName),
		a.Owner,
		strconv.FormatInt(a.EventTimeMillis, 10),
		actionState(a),
	}
}

func actionState(a ActionResponse) string {
	switch {
	case a.CompletedAt != "":
		return "completed"
	case a.Expired:
		return "expired"
	default:
		return "leased"
	}
}

func newActionListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List lease records",
		RunE: func(cmd *cobra.Command, args []string) error {
			actions, err := clientFn().ListActions()
			if err != nil {
				return err
			}

			rows := make([][]string, len(actions))
			for i, a := range actions {
				rows[i] = actionRow(a)
			}

			outputFn().Print(actionHeaders, rows, actions)
			return nil
		},
	}
}

// parseActionRef разбирает аргументы TYPE GROUP NAME EXEC_ID.
func parseActionRef(args []string, job string) (ActionRef, error) {
	execID, err := strconv.ParseInt(args[3], 10, 64)
	if err != nil {
		return ActionRef{}, fmt.Errorf("invalid execution id %q: %w", args[3], err)
	}
	return ActionRef{
		Type:            args[0],
		Group:           args[1],
		Name:            args[2],
		FlowExecutionID: execID,
		JobName:         job,
	}, nil
}

func newActionShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var job string

	cmd := &cobra.Command{
		Use:   "show TYPE GROUP NAME EXEC_ID",
		Short: "Show a lease record",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseActionRef(args, job)
			if err != nil {
				return err
			}

			action, err := clientFn().GetAction(ref)
			if err != nil {
				return err
			}

			outputFn().Print(actionHeaders, [][]string{actionRow(*action)}, action)
			return nil
		},
	}

	cmd.Flags().StringVar(&job, "job", "", "Job name for job-level actions")

	return cmd
}

func newActionDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var job string

	cmd := &cobra.Command{
		Use:   "delete TYPE GROUP NAME EXEC_ID",
		Short: "Delete a lease record",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseActionRef(args, job)
			if err != nil {
				return err
			}

			if err := clientFn().DeleteAction(ref); err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Lease deleted: %s %s.%s/%d", ref.Type, ref.Group, ref.Name, ref.FlowExecutionID))
			return nil
		},
	}

	cmd.Flags().StringVar(&job, "job", "", "Job name for job-level actions")

	return cmd
}
