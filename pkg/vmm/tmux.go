package vmm

import (
	"context"
	"fmt"
	"os/exec"
)

// runTmuxKill terminates a detached tmux session started by Tmux mode.
func runTmuxKill(ctx context.Context, session string) error {
	cmd := exec.CommandContext(ctx, "tmux", "kill-session", "-t", session)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("vmm: tmux kill-session %s: %w: %s", session, err, output)
	}
	return nil
}
