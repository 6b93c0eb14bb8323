package process

import (
	"context"
	"errors"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// KillTree force-kills pid and every descendant found in the host process
// table. A process that no longer exists counts as killed.
func KillTree(ctx context.Context, pid int) error {
	if pid <= 0 {
		return nil
	}
	desc := descendants(ctx, pid)
	err := killPID(ctx, int32(pid))
	for _, d := range desc {
		_ = killPID(ctx, d)
	}
	return err
}

// descendants walks the children of pid breadth-first.
func descendants(ctx context.Context, pid int) []int32 {
	root, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil
	}
	var out []int32
	seen := map[int32]bool{int32(pid): true}
	queue := []*gopsproc.Process{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		children, err := p.ChildrenWithContext(ctx)
		if err != nil {
			continue
		}
		for _, c := range children {
			if seen[c.Pid] {
				continue
			}
			seen[c.Pid] = true
			out = append(out, c.Pid)
			queue = append(queue, c)
		}
	}
	return out
}

func killPID(ctx context.Context, pid int32) error {
	p, err := gopsproc.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, gopsproc.ErrorProcessNotRunning) {
			return nil
		}
		return err
	}
	if err := p.KillWithContext(ctx); err != nil && !isGone(err) {
		if ok, _ := gopsproc.PidExistsWithContext(ctx, pid); !ok {
			return nil
		}
		return err
	}
	return nil
}
