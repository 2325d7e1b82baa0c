// Package editor lets the user fill in text with $EDITOR.
package editor

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/linmx0130/nah/internal/cmdline"
	"github.com/linmx0130/nah/internal/errs"
)

// DefaultEditor is used when $EDITOR is unset.
const DefaultEditor = "vi"

// Command returns the editor command line split into words.
func Command() ([]string, error) {
	value := strings.TrimSpace(os.Getenv("EDITOR"))
	if value == "" {
		value = DefaultEditor
	}
	words, err := cmdline.Split(value)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidValue, "", err, "EDITOR %q", value)
	}
	if len(words) == 0 {
		return []string{DefaultEditor}, nil
	}
	return words, nil
}

// Launch opens path in the editor with the terminal attached and waits
// for it to exit.
func Launch(ctx context.Context, path string) error {
	words, err := Command()
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, words[0], append(words[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return errs.Wrap(errs.IOError, "", err, "Failed on running editor")
	}
	return nil
}

// Edit writes initial to path, lets the user edit it and returns the saved
// text. The file is removed afterwards.
func Edit(ctx context.Context, path, initial string) (string, error) {
	if err := os.WriteFile(path, []byte(initial), 0o600); err != nil {
		return "", errs.Wrap(errs.IOError, "", err, "prepare %s", path)
	}
	defer os.Remove(path)
	if err := Launch(ctx, path); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errs.Wrap(errs.IOError, "", err, "read %s", path)
	}
	return string(data), nil
}

// StripLines drops every line that starts with prefix.
func StripLines(text, prefix string) string {
	var b strings.Builder
	for line := range strings.Lines(text) {
		if !strings.HasPrefix(line, prefix) {
			b.WriteString(line)
		}
	}
	return b.String()
}
