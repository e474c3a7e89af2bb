package streamreduce

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	streamerrors "github.com/tamirms/streamreduce/errors"
)

// CommandSorter sorts with an external sort(1) process, run as
// "Name Args... -o path path" under LC_ALL=C so that lines compare
// byte-wise.
type CommandSorter struct {
	Name string   // default "sort"
	Args []string // extra arguments, e.g. "-S", "50%"
}

func (s *CommandSorter) Sort(ctx context.Context, path string) error {
	name := s.Name
	if name == "" {
		name = "sort"
	}
	args := append(append([]string{}, s.Args...), "-o", path, path)

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", name, context.Cause(ctx))
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s: %w: %s", streamerrors.ErrSort, name, err, msg)
		}
		return fmt.Errorf("%w: %s: %w", streamerrors.ErrSort, name, err)
	}
	return nil
}
