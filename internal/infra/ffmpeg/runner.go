package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// commandRunner runs one external tool invocation to completion and returns
// its stdout. Factored out so sampler tests can stand in for the binaries.
type commandRunner interface {
	LookPath(name string) error
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) LookPath(name string) error {
	_, err := exec.LookPath(name)
	return err
}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%s: %w, output: %s", name, err, stderr.String())
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}
