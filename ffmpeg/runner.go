package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"ttsforge/config"
	"ttsforge/logx"
)

// Output holds what a tool wrote.
type Output struct {
	Stdout []byte
	Stderr []byte
}

// CommandRunner starts external media tools.
type CommandRunner interface {
	Run(ctx context.Context, bin string, args ...string) (Output, error)
}

// Runner executes ffmpeg and ffprobe, optionally waiting for the host to
// have spare resources first.
type Runner struct {
	cfg *config.Config
}

// NewRunner checks that both binaries are on PATH.
func NewRunner(cfg *config.Config) (*Runner, error) {
	for _, bin := range []string{cfg.FFBin, cfg.FFProbeBin} {
		if _, err := exec.LookPath(bin); err != nil {
			return nil, fmt.Errorf("binary not found or not in PATH: %s", bin)
		}
	}
	return &Runner{cfg: cfg}, nil
}

// Run executes bin with args. A non-zero exit is returned as a
// *ToolInvocationError carrying the exit code and stderr.
func (r *Runner) Run(ctx context.Context, bin string, args ...string) (Output, error) {
	tool := filepath.Base(bin)
	if r.cfg.ThrottleEnable {
		if err := r.checkResources(); err != nil {
			return Output{}, &ToolInvocationError{Tool: tool, Args: args, ExitCode: -1, Err: fmt.Errorf("insufficient system resources: %w", err)}
		}
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	lg := logx.FromCtx(ctx)
	lg.Debug().Str("tool", tool).Str("args", strings.Join(args, " ")).Msg("executing")
	start := time.Now()
	err := cmd.Run()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return out, &ToolInvocationError{Tool: tool, Args: args, ExitCode: code, Output: stderr.String(), Err: err}
	}
	lg.Debug().Str("tool", tool).Dur("took", time.Since(start)).Msg("finished")
	return out, nil
}

// checkResources verifies that the host has enough idle CPU, free memory
// and free disk in the work directory.
func (r *Runner) checkResources() error {
	lg := logx.Component("ffmpeg")

	p, err := cpu.Percent(time.Second, false)
	if err != nil {
		lg.Warn().Err(err).Msg("could not get CPU usage")
	} else if len(p) > 0 && p[0] > (100.0-r.cfg.ThrottleCPU) {
		return fmt.Errorf("not enough idle CPU: usage %.2f%%, idle threshold %.2f%%", p[0], r.cfg.ThrottleCPU)
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		lg.Warn().Err(err).Msg("could not get memory usage")
	} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
		return fmt.Errorf("not enough free memory: available %d, required %d", vm.Available, r.cfg.ThrottleFreeMem)
	}

	dir := r.cfg.WorkDir
	if dir == "" {
		dir = "."
	}
	d, err := disk.Usage(dir)
	if err != nil {
		lg.Warn().Err(err).Str("dir", dir).Msg("could not get disk usage")
	} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
		return fmt.Errorf("not enough free disk space: available %d, required %d", d.Free, r.cfg.ThrottleFreeDisk)
	}
	return nil
}
