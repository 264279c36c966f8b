package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Options selects renderer behavior for one request. Each flag maps to one
// renderer CLI switch; the four combinations produce four distinct argument
// lists.
type Options struct {
	ExtraThicc bool
	Autorig    bool
}

// CommandRunner executes the renderer binary with the customization payload
// on stdin and returns combined stdout/stderr. Swapped out in tests.
type CommandRunner func(ctx context.Context, stdin io.Reader, binary string, args ...string) ([]byte, error)

// ProcessError carries the renderer's diagnostic output alongside the exec
// failure. The output is logged by the caller, never shown to the requester.
type ProcessError struct {
	Output []byte
	Err    error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("renderer failed: %v", e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Invoker launches the external Blender renderer. Concurrency is bounded by
// a slot pool: requests beyond the pool size queue on the channel, so a
// long render never stalls unrelated pipeline stages, only other renders
// competing for a slot.
type Invoker struct {
	blenderPath string
	scenePath   string
	scriptPath  string
	outputRoot  string
	preview     bool
	timeout     time.Duration
	slots       chan struct{}
	run         CommandRunner
}

func NewInvoker(blenderPath, scenePath, scriptPath, outputRoot string, preview bool, slots int, timeout time.Duration) *Invoker {
	if slots <= 0 {
		slots = 1
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Invoker{
		blenderPath: blenderPath,
		scenePath:   scenePath,
		scriptPath:  scriptPath,
		outputRoot:  outputRoot,
		preview:     preview,
		timeout:     timeout,
		slots:       make(chan struct{}, slots),
		run:         defaultCommandRunner,
	}
}

// Render streams the customization payload to the renderer and returns the
// artifact path. A non-zero exit, an I/O failure, or a timeout that kills a
// hung child all surface as a *ProcessError.
func (i *Invoker) Render(ctx context.Context, payload []byte, email, username string, opts Options) (string, error) {
	select {
	case i.slots <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-i.slots }()

	artifact := ArtifactPath(i.outputRoot, email, username)
	if err := os.MkdirAll(filepath.Dir(artifact), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	args := i.buildArgs(artifact, opts)
	out, err := i.run(execCtx, bytes.NewReader(payload), i.blenderPath, args...)
	if err != nil {
		return "", &ProcessError{Output: out, Err: err}
	}
	return artifact, nil
}

// buildArgs assembles the Blender invocation. Everything after "--" belongs
// to the avatar assembly script: payload on stdin, artifact path, then the
// per-request switches.
func (i *Invoker) buildArgs(artifact string, opts Options) []string {
	args := []string{"-b", i.scenePath, "-P", i.scriptPath, "--", "-i", "-", "-o", artifact}
	if opts.ExtraThicc {
		args = append(args, "--thicc")
	}
	if opts.Autorig {
		args = append(args, "--rig")
	}
	if i.preview {
		args = append(args, "--preview")
	}
	return args
}

func defaultCommandRunner(ctx context.Context, stdin io.Reader, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdin = stdin
	out, err := cmd.CombinedOutput()
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("%w (%v)", ctx.Err(), err)
	}
	return out, err
}

// WithRunner swaps the command runner, for tests.
func (i *Invoker) WithRunner(run CommandRunner) *Invoker {
	if run != nil {
		i.run = run
	}
	return i
}

// Flags renders the option switches as a string, for logs.
func (o Options) Flags() string {
	parts := make([]string, 0, 2)
	if o.ExtraThicc {
		parts = append(parts, "thicc")
	}
	if o.Autorig {
		parts = append(parts, "rig")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}
