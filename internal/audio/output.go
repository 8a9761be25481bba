package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Output plays one clip and returns when playback ends. Cancelling ctx
// stops playback early.
type Output interface {
	Play(ctx context.Context, clip []byte) error
}

// Unlocker is implemented by outputs that need a first playback before
// alerts can be heard.
type Unlocker interface {
	Unlock(ctx context.Context) error
}

// CommandOutput pipes each clip to an external player's stdin, one process
// per playback. Killing the process is how a replay interrupts a clip.
type CommandOutput struct {
	name string
	args []string
}

// NewCommandOutput parses a command line such as "aplay -q -".
func NewCommandOutput(cmdline string) (*CommandOutput, error) {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return nil, errors.New("empty player command")
	}
	return &CommandOutput{name: fields[0], args: fields[1:]}, nil
}

func (o *CommandOutput) Play(ctx context.Context, clip []byte) error {
	cmd := exec.CommandContext(ctx, o.name, o.args...)
	cmd.Stdin = bytes.NewReader(clip)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w: %s", o.name, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (o *CommandOutput) Unlock(ctx context.Context) error {
	return o.Play(ctx, Silence(50*time.Millisecond))
}

// Discard accepts every clip without playing it, for headless stations.
type Discard struct{}

func (Discard) Play(ctx context.Context, _ []byte) error { return ctx.Err() }
