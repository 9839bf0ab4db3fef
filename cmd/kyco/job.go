package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/MAF2414/kyco-sub004/internal/job"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect and control jobs through a running kyco serve instance",
}

var (
	createFile        string
	createLineStart   int
	createLineEnd     int
	createSelected    string
	createMode        string
	createPrompt      string
	createDescription string
	createAgent       string
	createAgents      []string
	createQueue       bool
	createForceWT     bool
)

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Jobs []*job.Job `json:"jobs"`
		}
		if err := newControlPlaneClient().do("GET", "/ctl/jobs", nil, &resp); err != nil {
			return err
		}
		printJobTable(resp.Jobs)
		return nil
	},
}

var jobGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Fetch a single job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Job *job.Job `json:"job"`
		}
		if err := newControlPlaneClient().do("GET", "/ctl/jobs/"+args[0], nil, &resp); err != nil {
			return err
		}
		printJobTable([]*job.Job{resp.Job})
		return nil
	},
}

var jobCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a job (or a comparison group with --agents)",
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := map[string]any{
			"file_path":      createFile,
			"line_start":     createLineStart,
			"line_end":       createLineEnd,
			"selected_text":  createSelected,
			"mode":           createMode,
			"prompt":         createPrompt,
			"description":    createDescription,
			"agent":          createAgent,
			"agents":         createAgents,
			"queue":          createQueue,
			"force_worktree": createForceWT,
		}
		var resp map[string]any
		if err := newControlPlaneClient().do("POST", "/ctl/jobs", payload, &resp); err != nil {
			return err
		}
		fmt.Println(formatResponse(resp))
		return nil
	},
}

var jobQueueCmd = &cobra.Command{
	Use:   "queue <id>",
	Short: "Queue a Pending job",
	Args:  cobra.ExactArgs(1),
	RunE:  simpleJobAction("POST", "/queue"),
}

var jobAbortCmd = &cobra.Command{
	Use:   "abort <id>",
	Short: "Abort a running job or chain",
	Args:  cobra.ExactArgs(1),
	RunE:  simpleJobAction("POST", "/abort"),
}

var jobMergeCmd = &cobra.Command{
	Use:   "merge <id>",
	Short: "Merge a Done job's worktree back into the base branch",
	Args:  cobra.ExactArgs(1),
	RunE:  simpleJobAction("POST", "/merge"),
}

var jobRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a job and discard its worktree",
	Args:  cobra.ExactArgs(1),
	RunE:  simpleJobAction("POST", "/reject"),
}

var jobDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a job from the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newControlPlaneClient().do("DELETE", "/ctl/jobs/"+args[0], nil, nil); err != nil {
			return err
		}
		fmt.Println("deleted")
		return nil
	},
}

var continuePrompt string

var jobContinueCmd = &cobra.Command{
	Use:   "continue <id>",
	Short: "Start a follow-up job on the same bridge session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]any
		body := map[string]any{"prompt": continuePrompt}
		if err := newControlPlaneClient().do("POST", "/ctl/jobs/"+args[0]+"/continue", body, &resp); err != nil {
			return err
		}
		fmt.Println(formatResponse(resp))
		return nil
	},
}

var diffFormat string

var jobDiffCmd = &cobra.Command{
	Use:   "diff <id>",
	Short: "Show a job's worktree diff",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/ctl/jobs/" + args[0] + "/diff"
		if diffFormat == "report" {
			path += "?format=report"
		}
		var resp map[string]any
		if err := newControlPlaneClient().do("GET", path, nil, &resp); err != nil {
			return err
		}
		if diff, ok := resp["diff"].(string); ok {
			fmt.Println(diff)
			return nil
		}
		fmt.Println(formatResponse(resp))
		return nil
	},
}

var jobOutputCmd = &cobra.Command{
	Use:   "output <id>",
	Short: "Show a job's full response, structured result, and stats",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]any
		if err := newControlPlaneClient().do("GET", "/ctl/jobs/"+args[0]+"/output", nil, &resp); err != nil {
			return err
		}
		fmt.Println(formatResponse(resp))
		return nil
	},
}

var jobWaitCmd = &cobra.Command{
	Use:   "wait <id>",
	Short: "Poll a job until it reaches Done or a terminal status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newControlPlaneClient()
		for {
			var resp struct {
				Job *job.Job `json:"job"`
			}
			if err := client.do("GET", "/ctl/jobs/"+args[0], nil, &resp); err != nil {
				return err
			}
			// Done is not Status.Terminal() in the state-machine sense (it can
			// still move to Merged/Rejected), but the job's run is finished the
			// moment it reaches Done, which is what a CLI caller waits for.
			if resp.Job.Status.Terminal() || resp.Job.Status == job.StatusDone {
				printJobTable([]*job.Job{resp.Job})
				return nil
			}
			time.Sleep(500 * time.Millisecond)
		}
	},
}

// simpleJobAction builds a RunE for the POST <verb>-suffix endpoints that
// take no body and only print a status string.
func simpleJobAction(method, suffix string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var resp map[string]any
		if err := newControlPlaneClient().do(method, "/ctl/jobs/"+args[0]+suffix, nil, &resp); err != nil {
			return err
		}
		fmt.Println(formatResponse(resp))
		return nil
	}
}

func init() {
	jobCreateCmd.Flags().StringVar(&createFile, "file", "", "source file path")
	jobCreateCmd.Flags().IntVar(&createLineStart, "line", 0, "source line (or range start)")
	jobCreateCmd.Flags().IntVar(&createLineEnd, "line-end", 0, "range end line")
	jobCreateCmd.Flags().StringVar(&createSelected, "text", "", "free-text selection when no file/line applies")
	jobCreateCmd.Flags().StringVar(&createMode, "mode", "", "mode or chain name")
	jobCreateCmd.Flags().StringVar(&createPrompt, "prompt", "", "additional free-text prompt")
	jobCreateCmd.Flags().StringVar(&createDescription, "description", "", "short description")
	jobCreateCmd.Flags().StringVar(&createAgent, "agent", "", "agent id")
	jobCreateCmd.Flags().StringSliceVar(&createAgents, "agents", nil, "comma-separated agent ids for a comparison group")
	jobCreateCmd.Flags().BoolVar(&createQueue, "queue", false, "queue immediately after creating")
	jobCreateCmd.Flags().BoolVar(&createForceWT, "force-worktree", false, "force an isolated worktree even for a prompt-only job")
	_ = jobCreateCmd.MarkFlagRequired("mode")

	jobContinueCmd.Flags().StringVar(&continuePrompt, "prompt", "", "follow-up prompt")
	jobDiffCmd.Flags().StringVar(&diffFormat, "format", "", "diff (default) or report")
}

// printJobTable renders jobs with tablewriter, colored by status via
// lipgloss, grounded on the pack's table-output + ANSI-color idiom
// (buildkite-agent's go.mod pulls tablewriter; lipgloss is the teacher's
// own terminal styling library).
func printJobTable(jobs []*job.Job) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Status", "Mode", "Target", "Agent"})
	for _, j := range jobs {
		if j == nil {
			continue
		}
		table.Append([]string{
			strconv.FormatUint(uint64(j.ID), 10),
			styleStatus(j.Status),
			j.Mode,
			j.Target,
			j.AgentID,
		})
	}
	table.Render()
}

var (
	styleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#7dcfff"))
	styleDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ece6a"))
	styleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#f7768e"))
	styleBlocked = lipgloss.NewStyle().Foreground(lipgloss.Color("#e0af68"))
)

func styleStatus(status job.Status) string {
	switch status {
	case job.StatusRunning:
		return styleRunning.Render(string(status))
	case job.StatusDone, job.StatusMerged:
		return styleDone.Render(string(status))
	case job.StatusFailed, job.StatusRejected:
		return styleFailed.Render(string(status))
	case job.StatusBlocked:
		return styleBlocked.Render(string(status))
	default:
		return string(status)
	}
}

func formatResponse(resp map[string]any) string {
	out := ""
	for k, v := range resp {
		out += fmt.Sprintf("%s: %v\n", k, v)
	}
	return out
}
