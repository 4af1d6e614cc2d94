package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewFlowCmd создаёт группу команд для управления flows.
func NewFlowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Manage flows",
	}

	cmd.AddCommand(
		newFlowListCmd(clientFn, outputFn),
		newFlowApplyCmd(clientFn, outputFn),
		newFlowShowCmd(clientFn, outputFn),
		newFlowEnableCmd(clientFn, outputFn, true),
		newFlowEnableCmd(clientFn, outputFn, false),
		newFlowDeleteCmd(clientFn, outputFn),
		newFlowLaunchCmd(clientFn, outputFn),
	)

	return cmd
}

var flowHeaders = []string{"GROUP", "NAME", "CRON", "TZ", "ENABLED", "JOBS"}

func flowRow(f FlowResponse) []string {
	return []string{f.Group, f.Name, orDash(f.CronExpr), f.Timezone, strconv.FormatBool(f.Enabled), strconv.Itoa(len(f.Jobs))}
}

func newFlowListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			flows, err := clientFn().ListFlows()
			if err != nil {
				return err
			}

			rows := make([][]string, len(flows))
			for i, f := range flows {
				rows[i] = flowRow(f)
			}

			outputFn().Print(flowHeaders, rows, flows)
			return nil
		},
	}
}

// newFlowApplyCmd создаёт flow из YAML-файла или заменяет существующий.
func newFlowApplyCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create or update a flow from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req, err := readFlowFile(file)
			if err != nil {
				return err
			}

			flow, err := client.CreateFlow(req)
			if IsConflict(err) {
				flow, err = client.UpdateFlow(req.Group, req.Name, req)
				if err != nil {
					return err
				}
				out.Success(fmt.Sprintf("Flow updated: %s.%s", flow.Group, flow.Name))
			} else if err != nil {
				return err
			} else {
				out.Success(fmt.Sprintf("Flow created: %s.%s", flow.Group, flow.Name))
			}

			out.Print(flowHeaders, [][]string{flowRow(*flow)}, flow)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to flow YAML file (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// readFlowFile читает описание flow в том же формате, что и секция flows конфига.
func readFlowFile(path string) (FlowRequest, error) {
	var req FlowRequest

	data, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("failed to read flow file: %w", err)
	}
	if err := yaml.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("failed to parse flow file: %w", err)
	}
	if req.Group == "" || req.Name == "" {
		return req, fmt.Errorf("flow file must set group and name")
	}
	return req, nil
}

func newFlowShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show GROUP NAME",
		Short: "Show flow details",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			flow, err := clientFn().GetFlow(args[0], args[1])
			if err != nil {
				return err
			}

			out.Print(flowHeaders, [][]string{flowRow(*flow)}, flow)
			if !out.jsonMode && len(flow.Jobs) > 0 {
				rows := make([][]string, len(flow.Jobs))
				for i, j := range flow.Jobs {
					rows[i] = []string{j.Name, orDash(strings.Join(j.DependsOn, ","))}
				}
				fmt.Fprintln(out.w)
				out.Table([]string{"JOB", "DEPENDS_ON"}, rows)
			}
			return nil
		},
	}
}

func newFlowEnableCmd(clientFn func() *Client, outputFn func() *Output, enabled bool) *cobra.Command {
	use, short := "enable", "Enable flow schedule"
	if !enabled {
		use, short = "disable", "Disable flow schedule"
	}

	return &cobra.Command{
		Use:   use + " GROUP NAME",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			flow, err := client.GetFlow(args[0], args[1])
			if err != nil {
				return err
			}

			req := FlowRequest{
				CronExpr: flow.CronExpr,
				Timezone: flow.Timezone,
				Enabled:  &enabled,
				Jobs:     flow.Jobs,
				Props:    flow.Props,
			}
			flow, err = client.UpdateFlow(args[0], args[1], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Flow %s.%s enabled=%t", flow.Group, flow.Name, flow.Enabled))
			out.Print(flowHeaders, [][]string{flowRow(*flow)}, flow)
			return nil
		},
	}
}

func newFlowDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete GROUP NAME",
		Short: "Delete a flow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().DeleteFlow(args[0], args[1]); err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Flow deleted: %s.%s", args[0], args[1]))
			return nil
		},
	}
}

func newFlowLaunchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var execID int64
	var props []string

	cmd := &cobra.Command{
		Use:   "launch GROUP NAME",
		Short: "Launch a flow execution through lease arbitration",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			req := LaunchRequest{}
			if cmd.Flags().Changed("execution-id") {
				req.ExecutionID = &execID
			}
			if len(props) > 0 {
				parsed, err := parseProps(props)
				if err != nil {
					return err
				}
				req.Props = parsed
			}

			resp, err := clientFn().LaunchFlow(args[0], args[1], req)
			if err != nil {
				return err
			}

			out.Print(
				[]string{"DAG", "STATUS", "EVENT_TIME", "OWNER"},
				[][]string{{resp.DagID, resp.Status, strconv.FormatInt(resp.EventTimeMillis, 10), orDash(resp.Owner)}},
				resp,
			)
			return nil
		},
	}

	cmd.Flags().Int64Var(&execID, "execution-id", 0, "Flow execution id (default: current time in millis)")
	cmd.Flags().StringArrayVar(&props, "prop", nil, "Template property KEY=VALUE (repeatable)")

	return cmd
}

func parseProps(pairs []string) (map[string]string, error) {
	props := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --prop %q, expected KEY=VALUE", p)
		}
		props[k] = v
	}
	return props, nil
}
