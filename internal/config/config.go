// Package config loads the nah configuration file: the MCP servers to
// start and the chat model to talk to.
//
// The file is YAML or JSON (a Claude Desktop style "mcpServers" file works
// as is). ${VAR} references in string values are expanded from the
// environment before decoding.
package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/linmx0130/nah/internal/errs"
	"github.com/linmx0130/nah/internal/toolfilter"
)

// DefaultTimeoutMs is the receive timeout applied to servers that do not
// set one.
const DefaultTimeoutMs = 5000

// Config is a loaded configuration file.
type Config struct {
	// Servers are listed in file order.
	Servers []Server
	// Model is nil when the file has no usable model section.
	Model       *Model
	HistoryPath string
	TimeoutMs   int
}

// Server describes one MCP server. Exactly one of Command and URL is set.
type Server struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string

	URL       string
	Headers   map[string]string
	AuthToken string
	TimeoutMs int

	// ExposeTools and HideTools narrow the tools offered to the model.
	ExposeTools []string
	HideTools   []string
}

// Remote reports whether the server is reached over HTTP.
func (s Server) Remote() bool { return s.URL != "" }

// Model configures the chat completion endpoint.
type Model struct {
	BaseURL      string         `mapstructure:"baseUrl"`
	Model        string         `mapstructure:"model"`
	AuthToken    string         `mapstructure:"authToken"`
	SystemPrompt string         `mapstructure:"systemPrompt"`
	ExtraParams  map[string]any `mapstructure:"-"`
}

// Find returns the server named name.
func (c *Config) Find(name string) (Server, bool) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return Server{}, false
}

// Flags that override file settings when bound through Load.
const (
	FlagHistoryPath = "history-path"
	FlagTimeout     = "timeout"
)

// Loader reads configuration files.
type Loader struct {
	logger *zap.Logger
}

// NewLoader returns a Loader logging through logger.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		return &Loader{logger: zap.NewNop()}
	}
	return &Loader{logger: logger.Named("config")}
}

// Load reads the file at path. Flags named FlagHistoryPath and
// FlagTimeout in flags, when changed, take precedence over the file.
func (l *Loader) Load(ctx context.Context, path string, flags *pflag.FlagSet) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, "", err, "read config")
	}
	cfg, err := l.Parse(data, flags)
	if err != nil {
		return nil, err
	}
	return cfg, ctx.Err()
}

// Parse decodes a configuration document.
func (l *Loader) Parse(data []byte, flags *pflag.FlagSet) (*Config, error) {
	root, missing, err := expandEnv(data)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidValue, "", err, "config")
	}
	if len(missing) > 0 {
		l.logger.Warn("missing environment variables in config", zap.Strings("missing", missing))
	}
	var expanded []byte
	if root.Kind != 0 {
		if expanded, err = yaml.Marshal(root); err != nil {
			return nil, errs.Wrap(errs.InvalidValue, "", err, "encode expanded config")
		}
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("timeoutMs", DefaultTimeoutMs)
	v.SetDefault("historyPath", "")
	if flags != nil {
		if f := flags.Lookup(FlagHistoryPath); f != nil {
			_ = v.BindPFlag("historyPath", f)
		}
		if f := flags.Lookup(FlagTimeout); f != nil {
			_ = v.BindPFlag("timeoutMs", f)
		}
	}
	if err := v.ReadConfig(bytes.NewReader(expanded)); err != nil {
		return nil, errs.Wrap(errs.InvalidValue, "", err, "parse config")
	}

	cfg := &Config{
		HistoryPath: v.GetString("historyPath"),
		TimeoutMs:   v.GetInt("timeoutMs"),
	}
	if cfg.TimeoutMs <= 0 {
		return nil, errs.New(errs.InvalidValue, "", "timeoutMs must be positive, got %d", cfg.TimeoutMs)
	}

	var doc *yaml.Node
	if len(root.Content) > 0 {
		doc = root.Content[0]
	}

	if v.IsSet("model") {
		var m Model
		err := v.UnmarshalKey("model", &m)
		if err == nil {
			m.ExtraParams, err = decodeParams(mappingValue(mappingValue(doc, "model"), "extraParams"))
		}
		if err != nil {
			l.logger.Warn("ignoring malformed model section", zap.Error(err))
		} else if m.BaseURL == "" || m.Model == "" {
			l.logger.Warn("ignoring model section without baseUrl and model")
		} else {
			cfg.Model = &m
		}
	}

	servers, err := decodeServers(mappingValue(doc, "mcpServers"), cfg.TimeoutMs)
	if err != nil {
		return nil, err
	}
	cfg.Servers = servers
	return cfg, nil
}

// decodeParams reads model.extraParams from the node so that parameter
// names keep their case.
func decodeParams(n *yaml.Node) (map[string]any, error) {
	if n == nil {
		return nil, nil
	}
	var params map[string]any
	if err := n.Decode(&params); err != nil {
		return nil, fmt.Errorf("extraParams: %w", err)
	}
	return params, nil
}

type rawServer struct {
	Command     string            `yaml:"command"`
	Args        []string          `yaml:"args"`
	Env         map[string]string `yaml:"env"`
	URL         string            `yaml:"url"`
	Headers     map[string]string `yaml:"headers"`
	AuthToken   string            `yaml:"authToken"`
	TimeoutMs   int               `yaml:"timeoutMs"`
	ExposeTools toolList          `yaml:"exposeTools"`
	HideTools   toolList          `yaml:"hideTools"`
}

// toolList accepts either a YAML sequence or a comma-separated string.
type toolList []string

func (t *toolList) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		*t = toolfilter.ParseToolList(n.Value)
		return nil
	}
	var list []string
	if err := n.Decode(&list); err != nil {
		return err
	}
	*t = toolfilter.ParseToolList(strings.Join(list, ","))
	return nil
}

// decodeServers walks the mcpServers mapping directly so that server names,
// env keys and header names keep their case.
func decodeServers(n *yaml.Node, defaultTimeout int) ([]Server, error) {
	if n == nil {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, errs.New(errs.InvalidValue, "", "mcpServers must be a mapping")
	}
	var servers []Server
	seen := map[string]bool{}
	for i := 0; i+1 < len(n.Content); i += 2 {
		name := n.Content[i].Value
		if name == "" {
			return nil, errs.New(errs.InvalidValue, "", "server with empty name")
		}
		if seen[name] {
			return nil, errs.New(errs.InvalidValue, name, "duplicate server")
		}
		seen[name] = true

		var raw rawServer
		if err := n.Content[i+1].Decode(&raw); err != nil {
			return nil, errs.Wrap(errs.InvalidValue, name, err, "decode server")
		}
		s := Server{
			Name:        name,
			Command:     raw.Command,
			Args:        raw.Args,
			Env:         raw.Env,
			URL:         raw.URL,
			Headers:     raw.Headers,
			AuthToken:   raw.AuthToken,
			TimeoutMs:   raw.TimeoutMs,
			ExposeTools: raw.ExposeTools,
			HideTools:   raw.HideTools,
		}
		if s.TimeoutMs <= 0 {
			s.TimeoutMs = defaultTimeout
		}
		if err := validateServer(s); err != nil {
			return nil, err
		}
		servers = append(servers, s)
	}
	return servers, nil
}

func validateServer(s Server) error {
	switch {
	case s.Command == "" && s.URL == "":
		return errs.New(errs.InvalidValue, s.Name, "server needs either command or url")
	case s.Command != "" && s.URL != "":
		return errs.New(errs.InvalidValue, s.Name, "server sets both command and url")
	case len(s.ExposeTools) > 0 && len(s.HideTools) > 0:
		return errs.New(errs.InvalidValue, s.Name, "exposeTools and hideTools cannot be used together")
	}
	if s.URL != "" && !strings.HasPrefix(s.URL, "http://") && !strings.HasPrefix(s.URL, "https://") {
		return errs.New(errs.InvalidValue, s.Name, "url %q is not http(s)", s.URL)
	}
	return nil
}

// String renders a one-line summary of the server.
func (s Server) String() string {
	if s.Remote() {
		return fmt.Sprintf("%s (%s)", s.Name, s.URL)
	}
	return fmt.Sprintf("%s (%s)", s.Name, strings.Join(append([]string{s.Command}, s.Args...), " "))
}
