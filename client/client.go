// Package client starts the user's mail client on the sorted maildir.
package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

var ErrNoCommand = errors.New("mail client command is empty")

// Run starts command in dir with the terminal attached and waits for it to
// exit. A non-zero exit status is an error.
func Run(ctx context.Context, command []string, dir string) error {
	if len(command) == 0 || command[0] == "" {
		return ErrNoCommand
	}
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = dir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("mail client %s exited with %s: %w", command[0], exitErr.ProcessState, err)
		}
		return fmt.Errorf("start mail client %s: %w", command[0], err)
	}
	return nil
}
