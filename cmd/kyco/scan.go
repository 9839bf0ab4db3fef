package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	scanPrefix string
	scanQueue  bool
)

var scanCmd = &cobra.Command{
	Use:   "scan <file> [file...]",
	Short: "Scan files for comment-tag markers and create one job per tag",
	Long: `scan hands the given files to a running kyco serve instance's
/batch endpoint, which reads each file looking for comment-tag markers
(e.g. "// @@claude:refactor simplify this") and creates one Job per tag
found, mirroring the IDE "scan workspace" action from the CLI.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{
			"files":  args,
			"prefix": scanPrefix,
			"queue":  scanQueue,
		}
		var resp struct {
			Results []struct {
				File  string   `json:"file"`
				JobID *uint64  `json:"job_id,omitempty"`
				Error string   `json:"error,omitempty"`
				Tags  []string `json:"tags,omitempty"`
			} `json:"results"`
		}
		if err := newControlPlaneClient().do("POST", "/batch", body, &resp); err != nil {
			return err
		}
		for _, r := range resp.Results {
			switch {
			case r.Error != "":
				fmt.Printf("%s: error: %s\n", r.File, r.Error)
			case len(r.Tags) == 0:
				fmt.Printf("%s: no tags found\n", r.File)
			default:
				fmt.Printf("%s: %d tag(s), last job id %d\n", r.File, len(r.Tags), *r.JobID)
			}
		}
		return nil
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanPrefix, "prefix", "", "comment-tag prefix override (default @@)")
	scanCmd.Flags().BoolVar(&scanQueue, "queue", false, "queue each created job immediately")
}
