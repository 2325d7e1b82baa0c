package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/linmx0130/nah/internal/cmdline"
	"github.com/linmx0130/nah/internal/errs"
	"github.com/linmx0130/nah/internal/mcp"
	"github.com/linmx0130/nah/internal/schema"
)

type command struct {
	name    string
	aliases []string
	usage   string
	help    string
	minArgs int
	maxArgs int
	// rawTail keeps everything after the second word as one argument, so
	// inline JSON keeps its quotes.
	rawTail bool
	run     func(sh *shell, ctx context.Context, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{name: "help", usage: "help", help: "Show this command list.", run: (*shell).cmdHelp},
		{name: "use", usage: "use <server>", help: "Select a MCP server to interact with.", minArgs: 1, maxArgs: 1, run: (*shell).cmdUse},
		{name: "list_servers", usage: "list_servers", help: "List all available MCP servers.", run: (*shell).cmdListServers},
		{name: "restart_server", usage: "restart_server [server]", help: "Restart a MCP server (the current one by default).", maxArgs: 1, run: (*shell).cmdRestartServer},
		{name: "list_tools", usage: "list_tools", help: "List all tools on the current server.", run: (*shell).cmdListTools},
		{name: "inspect_tool", usage: "inspect_tool <tool>", help: "Inspect detailed info of a tool.", minArgs: 1, maxArgs: 1, run: (*shell).cmdInspectTool},
		{name: "call_tool", usage: "call_tool <tool> [json arguments]", help: "Call a tool on the current server.", minArgs: 1, maxArgs: 2, rawTail: true, run: (*shell).cmdCallTool},
		{name: "list_resources", usage: "list_resources", help: "List all resources on the current server.", run: (*shell).cmdListResources},
		{name: "inspect_resource", aliases: []string{"inspect_resources"}, usage: "inspect_resource <uri>", help: "Inspect detailed info of a resource.", minArgs: 1, maxArgs: 1, run: (*shell).cmdInspectResource},
		{name: "read_resource", aliases: []string{"read_resources"}, usage: "read_resource <uri>", help: "Read resources with a URI.", minArgs: 1, maxArgs: 1, run: (*shell).cmdReadResource},
		{name: "list_prompts", usage: "list_prompts", help: "List all prompts on the current server.", run: (*shell).cmdListPrompts},
		{name: "inspect_prompt", usage: "inspect_prompt <prompt>", help: "Inspect detailed info of a prompt.", minArgs: 1, maxArgs: 1, run: (*shell).cmdInspectPrompt},
		{name: "get_prompt", usage: "get_prompt <prompt> [json arguments]", help: "Get a prompt from the current server.", minArgs: 1, maxArgs: 2, rawTail: true, run: (*shell).cmdGetPrompt},
		{name: "set_timeout", usage: "set_timeout <milliseconds>", help: "Set communication timeout for the current server.", minArgs: 1, maxArgs: 1, run: (*shell).cmdSetTimeout},
		{name: "chat", usage: "chat", help: "Chat with a LLM equipped with tools.", run: (*shell).cmdChat},
		{name: "exit", usage: "exit", help: "Stop all servers and exit nah.", run: (*shell).cmdExit},
	}
}

func (sh *shell) cmdHelp(_ context.Context, _ []string) error {
	sh.println("Command list of nah:")
	for _, c := range commands {
		sh.printf("* %-18s %s\n", c.name+":", c.help)
	}
	return nil
}

func (sh *shell) cmdUse(_ context.Context, args []string) error {
	name := args[0]
	if _, ok := sh.servers[name]; !ok {
		sh.printf("Server %s not found. Available servers are:\n", name)
		for _, n := range sh.names() {
			sh.printf("* %s\n", n)
		}
		return nil
	}
	sh.current = name
	return nil
}

func (sh *shell) cmdListServers(_ context.Context, _ []string) error {
	for _, name := range sh.names() {
		sh.printf("* %s\n", sh.servers[name].cfg)
	}
	return nil
}

func (sh *shell) cmdRestartServer(ctx context.Context, args []string) error {
	name := sh.current
	if len(args) == 1 {
		name = args[0]
	}
	if name == "" {
		sh.println("No current server is selected!")
		sh.println("Usage: restart_server [server]")
		return nil
	}
	if err := sh.restart(ctx, name); err != nil {
		sh.printf("Fatal error while launching %s, give up this server.\n", name)
		return err
	}
	sh.printf("Server %s restarted.\n", name)
	return nil
}

func (sh *shell) cmdListTools(ctx context.Context, _ []string) error {
	return sh.withCurrent(func(srv *server) error {
		tools, err := srv.session.FetchTools(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch tool list: %w", err)
		}
		for _, t := range tools {
			sh.printf(" * %s\n", t.Name)
		}
		return nil
	})
}

func (sh *shell) cmdInspectTool(ctx context.Context, args []string) error {
	return sh.withCurrent(func(srv *server) error {
		def, err := srv.session.GetToolDefinition(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to load tool %s from server %s: %w", args[0], srv.cfg.Name, err)
		}
		sh.println(def.Name)
		if def.Description != "" {
			sh.printf("= Description =\n%s\n======\n", def.Description)
		}
		if params, err := schema.Parameters(def.InputSchema); err == nil && len(params) > 0 {
			sh.println("= Parameters =")
			for _, p := range params {
				line := fmt.Sprintf("  %s (%s)", p.Name, p.Type)
				if p.Required {
					line += " [REQUIRED]"
				}
				if len(p.Enum) > 0 {
					line += " one of " + strings.Join(p.Enum, ", ")
				}
				if p.Description != "" {
					line += ": " + p.Description
				}
				sh.println(line)
			}
			sh.println("======")
		}
		if a := def.Annotations; a != nil {
			sh.println("= Annotations =")
			if a.Title != "" {
				sh.printf("Title: %s\n", a.Title)
			}
			hints := []struct {
				label string
				value *bool
			}{
				{"Read only hint", a.ReadOnlyHint},
				{"Destructive hint", a.DestructiveHint},
				{"Idempotent hint", a.IdempotentHint},
				{"Open world hint", a.OpenWorldHint},
			}
			for _, h := range hints {
				if h.value != nil {
					sh.printf("%s: %t\n", h.label, *h.value)
				}
			}
			sh.println("=====")
		}
		return nil
	})
}

func (sh *shell) cmdCallTool(ctx context.Context, args []string) error {
	return sh.withCurrent(func(srv *server) error {
		name := args[0]
		def, err := srv.session.GetToolDefinition(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to load tool %s from server %s: %w", name, srv.cfg.Name, err)
		}
		if def.Destructive() {
			prompt := fmt.Sprintf("Tool %s is annotated as destructive. Do you still want to call? [N/y] > ", name)
			if !sh.Confirm(prompt, fmt.Sprintf("Tool %s has not been called.", name)) {
				return nil
			}
		}

		var text string
		switch {
		case len(args) == 2:
			text = args[1]
		case !hasParameters(def.InputSchema):
			sh.println("No argument is requested. Directly call the function...")
		default:
			tmpl, err := schema.Template(def.InputSchema)
			if err != nil {
				return fmt.Errorf("failed to prepare argument template for tool %s: %w", name, err)
			}
			header := schema.Comment("Please fill arguments for tool call here in JSON format.\nLines starting with '//' will be removed.")
			path := filepath.Join(sh.history, ".nah_req."+cmdline.FileName(name)+".args.json")
			if text, err = sh.edit(ctx, path, header+"\n"+tmpl); err != nil {
				return err
			}
		}

		arguments, err := schema.LoadArguments(text)
		if err != nil {
			return errs.Wrap(errs.InvalidArgument, srv.cfg.Name, err, "arguments of %s", name)
		}
		if err := schema.Validate(def.InputSchema, arguments); err != nil {
			return errs.Wrap(errs.InvalidArgument, srv.cfg.Name, err, "arguments of %s do not match its input schema", name)
		}
		result, err := srv.session.CallTool(ctx, name, arguments)
		if err != nil {
			return err
		}
		return sh.printResult(result)
	})
}

// hasParameters reports whether an input schema declares any property.
func hasParameters(raw json.RawMessage) bool {
	params, err := schema.Parameters(raw)
	return err != nil || len(params) > 0
}

func (sh *shell) cmdListResources(ctx context.Context, _ []string) error {
	return sh.withCurrent(func(srv *server) error {
		sh.println("Direct resources")
		if resources, err := srv.session.FetchResources(ctx); err != nil {
			sh.printf("Failed to load resource list: %v\n", err)
		} else {
			for _, r := range resources {
				sh.printf(" * %s\n", r.URI)
			}
		}
		sh.println("Resource templates")
		if templates, err := srv.session.FetchResourceTemplates(ctx); err != nil {
			sh.printf("Failed to load resource templates: %v\n", err)
		} else {
			for _, t := range templates {
				sh.printf(" * %s\n", t.URITemplate)
			}
		}
		return nil
	})
}

func (sh *shell) cmdInspectResource(ctx context.Context, args []string) error {
	return sh.withCurrent(func(srv *server) error {
		r, err := srv.session.GetResourceDefinition(ctx, args[0])
		if err != nil {
			return err
		}
		sh.printf("Name: %s\n", r.Name)
		sh.printf("URI: %s\n", r.URI)
		if r.Size != nil {
			sh.printf("Size: %d\n", *r.Size)
		}
		if r.MIMEType != "" {
			sh.printf("MIME Type: %s\n", r.MIMEType)
		}
		if r.Description != "" {
			sh.printf("======\n%s\n======\n", r.Description)
		}
		return nil
	})
}

func (sh *shell) cmdReadResource(ctx context.Context, args []string) error {
	return sh.withCurrent(func(srv *server) error {
		contents, err := srv.session.ReadResource(ctx, args[0])
		if err != nil {
			return err
		}
		return sh.printResult(contents)
	})
}

func (sh *shell) cmdListPrompts(ctx context.Context, _ []string) error {
	return sh.withCurrent(func(srv *server) error {
		prompts, err := srv.session.FetchPrompts(ctx)
		if err != nil {
			return fmt.Errorf("failed to load prompt list: %w", err)
		}
		for _, p := range prompts {
			sh.printf("* %s\n", p.Name)
		}
		return nil
	})
}

func (sh *shell) cmdInspectPrompt(ctx context.Context, args []string) error {
	return sh.withCurrent(func(srv *server) error {
		p, err := srv.session.GetPromptDefinition(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to load prompt %s: %w", args[0], err)
		}
		sh.printf("Name: %s\n", p.Name)
		if p.Description != "" {
			sh.printf("Description:\n  %s\n", p.Description)
		}
		if len(p.Arguments) > 0 {
			sh.println("Args:")
			for _, a := range p.Arguments {
				desc := a.Description
				if a.IsRequired() {
					desc = "[REQUIRED] " + desc
				}
				sh.printf("  %s: %s\n", a.Name, desc)
			}
		}
		return nil
	})
}

func (sh *shell) cmdGetPrompt(ctx context.Context, args []string) error {
	return sh.withCurrent(func(srv *server) error {
		name := args[0]
		def, err := srv.session.GetPromptDefinition(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to load prompt %s: %w", name, err)
		}

		var text string
		switch {
		case len(args) == 2:
			text = args[1]
		case len(def.Arguments) == 0:
			sh.printf("Prompt %s doesn't need arguments.\n", name)
		default:
			path := filepath.Join(sh.history, ".nah_req."+cmdline.FileName(name)+".args.json")
			if text, err = sh.edit(ctx, path, promptTemplate(def.Arguments)); err != nil {
				return err
			}
		}

		values, err := promptArguments(text)
		if err != nil {
			return errs.Wrap(errs.InvalidArgument, srv.cfg.Name, err, "arguments of prompt %s", name)
		}
		result, err := srv.session.GetPromptContent(ctx, name, values)
		if err != nil {
			return err
		}
		return sh.printResult(result)
	})
}

// promptTemplate renders the editable argument object for a prompt.
func promptTemplate(arguments []mcp.PromptArgument) string {
	var b strings.Builder
	b.WriteString(schema.Comment("Please fill arguments for the prompt here in JSON format.\nLines starting with '//' will be removed."))
	b.WriteString("\n{\n")
	for i, a := range arguments {
		if a.Description != "" {
			b.WriteString("    " + schema.Comment(a.Description) + "\n")
		}
		fmt.Fprintf(&b, "    %q: \"<FILL ARGUMENT HERE>\"", a.Name)
		if i < len(arguments)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}\n")
	return b.String()
}

// promptArguments parses a JSON object of prompt arguments. Prompt
// arguments are strings; other JSON values are passed in their JSON form.
func promptArguments(text string) (map[string]string, error) {
	raw, err := schema.LoadArguments(text)
	if err != nil {
		return nil, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	values := make(map[string]string, len(obj))
	for k, v := range obj {
		var s string
		if json.Unmarshal(v, &s) == nil {
			values[k] = s
			continue
		}
		values[k] = string(v)
	}
	return values, nil
}

func (sh *shell) cmdSetTimeout(_ context.Context, args []string) error {
	ms, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil || ms == 0 {
		sh.println("Timeout value must be a positive integer!")
		return nil
	}
	return sh.withCurrent(func(srv *server) error {
		srv.session.SetTimeout(time.Duration(ms) * time.Millisecond)
		sh.printf("Timeout for MCP server %s has been set to %dms\n", srv.cfg.Name, ms)
		return nil
	})
}

func (sh *shell) cmdExit(_ context.Context, _ []string) error {
	sh.println("Terminate MCP servers..")
	sh.closeAll()
	return errExit
}

func (sh *shell) printResult(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	sh.printf("Result: \n%s\n\n", data)
	return nil
}
