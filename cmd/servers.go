package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/linmx0130/nah/internal/auth"
	"github.com/linmx0130/nah/internal/cmdline"
	"github.com/linmx0130/nah/internal/config"
	"github.com/linmx0130/nah/internal/mcp"
	"github.com/linmx0130/nah/internal/transcript"
)

// server is a started MCP server and the files it writes.
type server struct {
	cfg        config.Server
	session    *mcp.Session
	transcript *transcript.Writer
	stderr     io.Closer
}

func (s *server) close() error {
	err := s.session.Close()
	if s.stderr != nil {
		err = errors.Join(err, s.stderr.Close())
	}
	return errors.Join(err, s.transcript.Close())
}

// startServer launches or connects to sc, records traffic under dir and
// runs the handshake.
func startServer(ctx context.Context, sc config.Server, dir string, log *zap.Logger) (*server, error) {
	stem := filepath.Join(dir, cmdline.FileName(sc.Name))
	tw, err := transcript.Open(stem + ".jsonl")
	if err != nil {
		return nil, err
	}
	srv := &server{cfg: sc, transcript: tw}
	timeout := time.Duration(sc.TimeoutMs) * time.Millisecond
	log = log.Named("mcp").With(zap.String("server", sc.Name))

	var t mcp.Transport
	if sc.Remote() {
		t = mcp.NewHTTPTransport(mcp.HTTPConfig{
			Name:       sc.Name,
			URL:        sc.URL,
			Headers:    sc.Headers,
			AuthToken:  auth.LookupToken(sc.AuthToken, sc.URL),
			Timeout:    timeout,
			Transcript: tw,
			Logger:     log,
		})
	} else {
		stderr, err := os.OpenFile(stem+".stderr", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			_ = tw.Close()
			return nil, fmt.Errorf("open stderr log: %w", err)
		}
		srv.stderr = stderr
		st := mcp.NewStdioTransport(mcp.StdioConfig{
			Name:       sc.Name,
			Command:    sc.Command,
			Args:       sc.Args,
			Env:        envList(sc.Env),
			Stderr:     stderr,
			Transcript: tw,
			Timeout:    timeout,
			Logger:     log,
		})
		if err := st.Start(); err != nil {
			_ = stderr.Close()
			_ = tw.Close()
			return nil, err
		}
		t = st
	}

	srv.session = mcp.NewSession(sc.Name, t, log)
	if _, err := srv.session.Initialize(ctx); err != nil {
		_ = srv.close()
		return nil, err
	}
	return srv, nil
}

// envList renders env as sorted KEY=VALUE entries.
func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	slices.Sort(out)
	return out
}

// startAll starts every configured server. Failures are reported and the
// server is skipped.
func (sh *shell) startAll(ctx context.Context) {
	for _, sc := range sh.cfg.Servers {
		if sc.Remote() {
			sh.printf("Initializing remote server: %s\n", sc.Name)
		} else {
			sh.printf("Launching server: %s\n", sc.Name)
		}
		srv, err := startServer(ctx, sc, sh.history, sh.logger)
		if err != nil {
			sh.printf("Fatal error while launching %s, give up this server.\nError: %v\n", sc.Name, err)
			continue
		}
		sh.servers[sc.Name] = srv
	}
}

// names lists started servers in config order.
func (sh *shell) names() []string {
	var out []string
	for _, sc := range sh.cfg.Servers {
		if _, ok := sh.servers[sc.Name]; ok {
			out = append(out, sc.Name)
		}
	}
	return out
}

// restart replaces the server called name with a fresh instance. The old
// one is closed only after the new one is up; both append to the same
// transcript.
func (sh *shell) restart(ctx context.Context, name string) error {
	sc, ok := sh.cfg.Find(name)
	if !ok {
		return fmt.Errorf("MCP Server %s not found!", name)
	}
	srv, err := startServer(ctx, sc, sh.history, sh.logger)
	if err != nil {
		return err
	}
	old := sh.servers[name]
	sh.servers[name] = srv
	if old != nil {
		if err := old.close(); err != nil {
			sh.logger.Warn("closing replaced server", zap.String("server", name), zap.Error(err))
		}
	}
	return nil
}

func (sh *shell) closeAll() {
	for _, name := range sh.names() {
		if err := sh.servers[name].close(); err != nil {
			sh.printf("Failed to terminate server: %s (%v)\n", name, err)
		}
		delete(sh.servers, name)
	}
}

// sessions returns the started sessions in config order.
func (sh *shell) sessions() []*mcp.Session {
	var out []*mcp.Session
	for _, name := range sh.names() {
		out = append(out, sh.servers[name].session)
	}
	return out
}
