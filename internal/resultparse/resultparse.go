// Package resultparse extracts the structured YAML result footer an agent
// appends to its final response (spec §4.5 step 5, §6). Grounded on the
// original's serde_yaml-based parsing of a fenced `---` block and on the
// teacher's yaml.v3 usage for config files.
package resultparse

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MAF2414/kyco-sub004/internal/job"
)

// fence is the delimiter marking the start and end of the structured block.
const fence = "---"

// Parse extracts the trailing fenced YAML block from an agent's full
// response text, if any. It returns ok=false (no error) when no fenced
// block is present — an agent is not required to emit one.
func Parse(response string) (job.Result, bool, error) {
	block, ok := extractFencedBlock(response)
	if !ok {
		return job.Result{}, false, nil
	}
	var r job.Result
	if err := yaml.Unmarshal([]byte(block), &r); err != nil {
		return job.Result{}, false, err
	}
	return r, true, nil
}

// extractFencedBlock finds the last `---\n...\n---` delimited region in s.
// Agents may emit prose before the block; only the final fence pair is
// treated as the structured footer.
func extractFencedBlock(s string) (string, bool) {
	lines := strings.Split(s, "\n")
	end := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == fence {
			end = i
			break
		}
	}
	if end < 0 {
		return "", false
	}
	start := -1
	for i := end - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == fence {
			start = i
			break
		}
	}
	if start < 0 {
		return "", false
	}
	return strings.Join(lines[start+1:end], "\n"), true
}

// Serialize is the inverse of Parse, used by round-trip tests (R3) and by
// components that synthesize a result block for fixtures.
func Serialize(r job.Result) (string, error) {
	body, err := yaml.Marshal(r)
	if err != nil {
		return "", err
	}
	return fence + "\n" + string(body) + fence, nil
}
