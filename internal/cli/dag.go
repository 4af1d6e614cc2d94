package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewDagCmd создаёт группу команд для checkpoint'ов DAG.
func NewDagCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dag",
		Short: "Inspect DAG checkpoints",
	}

	cmd.AddCommand(
		newDagListCmd(clientFn, outputFn),
		newDagShowCmd(clientFn, outputFn),
		newDagDeleteCmd(clientFn, outputFn),
	)

	return cmd
}

func newDagListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List checkpointed DAGs",
		RunE: func(cmd *cobra.Command, args []string) error {
			dags, err := clientFn().ListDags()
			if err != nil {
				return err
			}

			if status != "" {
				filtered := dags[:0]
				for _, d := range dags {
					if strings.EqualFold(d.Status, status) {
						filtered = append(filtered, d)
					}
				}
				dags = filtered
			}

			headers := []string{"ID", "STATUS", "OWNER", "JOBS", "READY", "UPDATED"}
			rows := make([][]string, len(dags))
			for i, d := range dags {
				rows[i] = []string{d.ID, d.Status, orDash(d.Owner), strconv.Itoa(d.Jobs), orDash(strings.Join(d.Ready, ",")), d.UpdatedAt}
			}

			outputFn().Print(headers, rows, dags)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, RUNNING, SUCCEEDED, FAILED, CANCELLED)")

	return cmd
}

func newDagShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show DAG_ID",
		Short: "Show DAG checkpoint with job states",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			dag, err := clientFn().GetDag(args[0])
			if err != nil {
				return err
			}
			if out.jsonMode {
				out.JSON(dag)
				return nil
			}

			fmt.Fprintf(out.w, "DAG %s status=%s owner=%s\n\n", args[0], dag.Status, orDash(dag.Owner))

			rows := make([][]string, len(dag.Jobs))
			for i, j := range dag.Jobs {
				rows[i] = []string{j.Name, j.Status, strconv.Itoa(j.Attempt), orDash(strings.Join(j.DependsOn, ",")), orDash(j.Error)}
			}
			out.Table([]string{"JOB", "STATUS", "ATTEMPT", "DEPENDS_ON", "ERROR"}, rows)
			return nil
		},
	}
}

func newDagDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete DAG_ID",
		Short: "Delete a DAG checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().DeleteDag(args[0]); err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("DAG checkpoint deleted: %s", args[0]))
			return nil
		},
	}
}
