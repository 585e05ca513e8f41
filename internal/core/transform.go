package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"unicode/utf8"

	"hashhost/internal/codec"
)

// stderrExcerpt bounds how much of a failing filter's stderr ends up in the error.
const stderrExcerpt = 512

// Transform streams src through filter into dst. An empty filter copies the
// bytes verbatim, a "builtin:" filter runs in-process, anything else runs
// through the system shell with src on its standard input.
//
// The filter's output is held back until it has finished, so a failing
// filter leaves dst untouched. Failures wrap ErrTransformFailed.
func Transform(ctx context.Context, src io.Reader, dst io.Writer, filter string, env []string) error {
	switch {
	case strings.TrimSpace(filter) == "":
		if _, err := io.Copy(dst, src); err != nil {
			return fmt.Errorf("copy: %w", err)
		}
		return nil
	case codec.IsBuiltin(filter):
		return transformBuiltin(src, dst, filter)
	default:
		return transformShell(ctx, src, dst, filter, env)
	}
}

func transformBuiltin(src io.Reader, dst io.Writer, filter string) error {
	f, err := codec.Parse(filter)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransformFailed, err)
	}
	var out bytes.Buffer
	if err := f.Apply(&out, src); err != nil {
		return fmt.Errorf("%w: %w", ErrTransformFailed, err)
	}
	if _, err := out.WriteTo(dst); err != nil {
		return fmt.Errorf("write transform output: %w", err)
	}
	return nil
}

func transformShell(ctx context.Context, src io.Reader, dst io.Writer, filter string, env []string) error {
	cmd := ShellCommand(ctx, filter)
	cmd.Env = env
	cmd.Stdin = src

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start filter %q: %w", filter, err)
	}
	if err := settleWait(ctx, cmd.Wait()); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return fmt.Errorf("wait filter %q: %w", filter, err)
		}
		return fmt.Errorf("%w: %q exited with status %d%s",
			ErrTransformFailed, filter, exitErr.ExitCode(), formatExcerpt(stderr.Bytes()))
	}
	if _, err := stdout.WriteTo(dst); err != nil {
		return fmt.Errorf("write transform output: %w", err)
	}
	return nil
}

// truncateRunes cuts s to at most n bytes without splitting a character
// and marks the cut with "...".
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func formatExcerpt(stderr []byte) string {
	text := strings.TrimSpace(string(stderr))
	if text == "" {
		return ""
	}
	if len(text) > stderrExcerpt {
		text = truncateRunes(text, stderrExcerpt)
	}
	return ": " + text
}
