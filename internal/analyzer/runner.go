package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

const maxStderrBytes = 4096

// Invocation is one run of an external analyzer. The analyzer reports results
// by writing a JSON document to Artifact, never through stdout.
type Invocation struct {
	Command  []string
	Args     []string
	Artifact string
}

type Outcome struct {
	ExitCode int
	Stderr   string
}

type Runner interface {
	Run(ctx context.Context, inv Invocation) (Outcome, error)
}

// OSRunner runs analyzers as subprocesses. A non-zero exit is reported in the
// Outcome; the returned error is reserved for start failures and cancellation.
type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, inv Invocation) (Outcome, error) {
	if len(inv.Command) == 0 {
		return Outcome{}, errors.New("analyzer command is empty")
	}
	args := append(append([]string{}, inv.Command[1:]...), inv.Args...)
	cmd := exec.CommandContext(ctx, inv.Command[0], args...)
	cmd.Stdout = io.Discard
	var stderr tailBuffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	out := Outcome{Stderr: strings.TrimSpace(stderr.String())}
	if ctxErr := ctx.Err(); ctxErr != nil {
		out.ExitCode = -1
		return out, ctxErr
	}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			out.ExitCode = ee.ExitCode()
			return out, nil
		}
		return out, fmt.Errorf("%s failed to start: %w", inv.Command[0], err)
	}
	return out, nil
}

// tailBuffer keeps the last maxStderrBytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf.Write(p)
	if over := t.buf.Len() - maxStderrBytes; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *tailBuffer) String() string { return t.buf.String() }
