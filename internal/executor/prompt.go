package executor

import (
	"fmt"
	"strconv"

	"github.com/MAF2414/kyco-sub004/internal/config"
	"github.com/MAF2414/kyco-sub004/internal/job"
	"github.com/MAF2414/kyco-sub004/internal/kerrors"
)

// buildPrompt resolves the outgoing prompt for j. A job created with an
// explicit Prompt (chain steps, continue_session, free-text jobs) uses it
// verbatim; otherwise the job's Mode is rendered against its
// ModeDefinition's prompt_template.
func buildPrompt(defs config.Definitions, j *job.Job) (string, config.ModeDefinition, error) {
	if j.Prompt != "" {
		modeDef, _ := defs.Mode(j.Mode)
		return j.Prompt, modeDef, nil
	}
	modeDef, ok := defs.Mode(j.Mode)
	if !ok {
		return "", config.ModeDefinition{}, fmt.Errorf("mode %q: %w", j.Mode, kerrors.ErrConfig)
	}
	vars := map[string]string{
		"file":        j.SourceFile,
		"line":        strconv.Itoa(j.SourceLine),
		"target":      j.Target,
		"mode":        j.Mode,
		"description": j.Description,
		"scope_type":  "selection",
		"ide_context": j.IDEContext,
	}
	return modeDef.Render(vars), modeDef, nil
}
