package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/linmx0130/nah/internal/chat"
	"github.com/linmx0130/nah/internal/cmdline"
	"github.com/linmx0130/nah/internal/config"
	"github.com/linmx0130/nah/internal/editor"
	"github.com/linmx0130/nah/internal/errs"
	"github.com/linmx0130/nah/internal/toolfilter"
)

// errExit ends the REPL.
var errExit = errors.New("exit")

// shell is the interactive command loop.
type shell struct {
	cfg     *config.Config
	history string
	in      *bufio.Reader
	out     io.Writer
	logger  *zap.Logger

	servers map[string]*server
	current string

	// edit lets the user fill in a draft; replaced in tests.
	edit func(ctx context.Context, path, initial string) (string, error)
	// newCompleter builds the chat model client.
	newCompleter func(m *config.Model) chat.Completer
}

func newShell(cfg *config.Config, history string, in *bufio.Reader, out io.Writer, log *zap.Logger) *shell {
	if log == nil {
		log = zap.NewNop()
	}
	return &shell{
		cfg:          cfg,
		history:      history,
		in:           in,
		out:          out,
		logger:       log,
		servers:      make(map[string]*server),
		edit:         editor.Edit,
		newCompleter: newModelClient,
	}
}

func (sh *shell) printf(format string, args ...any) {
	fmt.Fprintf(sh.out, format, args...)
}

func (sh *shell) println(args ...any) {
	fmt.Fprintln(sh.out, args...)
}

// readLine prints prompt and reads one line without its line ending. It
// returns io.EOF once input is exhausted.
func (sh *shell) readLine(prompt string) (string, error) {
	sh.printf("%s", prompt)
	line, err := sh.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Confirm asks a yes/no question on the terminal. Only "y" or "Y" agrees.
func (sh *shell) Confirm(prompt, cancelMessage string) bool {
	answer, err := sh.readLine(prompt)
	if err == nil {
		if a := strings.TrimSpace(answer); a == "y" || a == "Y" {
			return true
		}
	}
	sh.println(cancelMessage)
	return false
}

func (sh *shell) prompt() string {
	if sh.current != "" {
		return fmt.Sprintf("[%s] >> ", sh.current)
	}
	return ">> "
}

// run reads and executes commands until exit or end of input.
func (sh *shell) run(ctx context.Context) error {
	for {
		line, err := sh.readLine(sh.prompt())
		if errors.Is(err, io.EOF) {
			sh.println()
			return nil
		}
		if err != nil {
			return err
		}
		if err := sh.execute(ctx, line); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			if errs.Is(err, errs.UserCancelled) {
				continue
			}
			sh.printf("Error: %v\n", err)
		}
	}
}

// execute runs one command line. Interrupting a running command cancels
// it without leaving the shell.
func (sh *shell) execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name := fields[0]
	c, ok := lookupCommand(name)
	if !ok {
		msg := fmt.Sprintf("Invalid command: %s.", name)
		if s := toolfilter.Suggest(name, commandNames()); s != "" {
			msg += fmt.Sprintf(" Did you mean '%s'?", s)
		}
		sh.println(msg)
		return nil
	}

	var args []string
	var err error
	if c.rawTail {
		var rest string
		args, rest, err = cmdline.Cut(line, 2)
		if rest != "" {
			args = append(args, rest)
		}
	} else {
		args, err = cmdline.Split(line)
	}
	if err != nil {
		return err
	}
	args = args[1:]
	if len(args) < c.minArgs || len(args) > c.maxArgs {
		sh.printf("Usage: %s\n", c.usage)
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	return c.run(sh, ctx, args)
}

// withCurrent runs f against the selected server.
func (sh *shell) withCurrent(f func(srv *server) error) error {
	srv, ok := sh.servers[sh.current]
	if sh.current == "" || !ok {
		sh.println("No server is selected. Run `use` command to select a server.")
		return nil
	}
	return f(srv)
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for _, c := range commands {
		names = append(names, c.name)
	}
	return names
}

func lookupCommand(name string) (command, bool) {
	i := slices.IndexFunc(commands, func(c command) bool {
		return c.name == name || slices.Contains(c.aliases, name)
	})
	if i < 0 {
		return command{}, false
	}
	return commands[i], true
}
