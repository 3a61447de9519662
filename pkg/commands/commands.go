// Package commands implements slash commands: messages starting with "/"
// are answered directly, without entering the agent loop or spending tokens.
package commands

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/docpilot-ai/agentd/pkg/models"
	"github.com/docpilot-ai/agentd/pkg/tools"
)

// CommitLister is the slice of the store the commit commands need.
type CommitLister interface {
	ListCommits(ctx context.Context, chatID string, n int) ([]*models.ConfigCommit, error)
}

// Command is one slash command.
type Command struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Usage       string `json:"usage"`

	run func(ctx context.Context, chatID string, args []string) (string, error)
}

// Registry routes slash commands.
type Registry struct {
	commands map[string]Command
	order    []string
}

// NewRegistry builds the registry with the builtin command set.
func NewRegistry(store CommitLister, skillsDir string, gateway tools.Gateway) *Registry {
	r := &Registry{commands: make(map[string]Command)}

	r.register(Command{
		Name:        "/list-commands",
		Description: "List the available slash commands.",
		Usage:       "/list-commands",
		run: func(context.Context, string, []string) (string, error) {
			var sb strings.Builder
			for _, cmd := range r.List() {
				fmt.Fprintf(&sb, "%-22s %s\n", cmd.Usage, cmd.Description)
			}
			return strings.TrimRight(sb.String(), "\n"), nil
		},
	})

	r.register(Command{
		Name:        "/list-commits",
		Description: "List this chat's configuration commits, newest first.",
		Usage:       "/list-commits [n]",
		run: func(ctx context.Context, chatID string, args []string) (string, error) {
			limit := 10
			if len(args) > 0 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return "", fmt.Errorf("usage: /list-commits [n]")
				}
				limit = n
			}
			commits, err := store.ListCommits(ctx, chatID, limit)
			if err != nil {
				return "", err
			}
			if len(commits) == 0 {
				return "No configuration commits in this chat.", nil
			}
			var sb strings.Builder
			for _, c := range commits {
				fmt.Fprintf(&sb, "%s  %s  (%d changes)  %s\n",
					c.Hash, c.Timestamp.Format("2006-01-02 15:04:05"), len(c.Changes), c.Message)
			}
			return strings.TrimRight(sb.String(), "\n"), nil
		},
	})

	r.register(Command{
		Name:        "/list-skills",
		Description: "List the installed skill documents.",
		Usage:       "/list-skills",
		run: func(context.Context, string, []string) (string, error) {
			names, err := tools.SkillNames(skillsDir)
			if err != nil {
				return "", err
			}
			if len(names) == 0 {
				return "No skills are installed.", nil
			}
			return "Available skills: " + strings.Join(names, ", "), nil
		},
	})

	r.register(Command{
		Name:        "/list-mcp-tools",
		Description: "List every tool the downstream gateway exposes, by category.",
		Usage:       "/list-mcp-tools",
		run: func(ctx context.Context, _ string, _ []string) (string, error) {
			descriptors, err := gateway.Descriptors(ctx)
			if err != nil {
				return "", err
			}
			byCategory := make(map[string][]string)
			for _, d := range descriptors {
				name := d.Name
				if d.Hidden {
					name += " (hidden)"
				}
				byCategory[d.Category] = append(byCategory[d.Category], name)
			}
			categories := make([]string, 0, len(byCategory))
			for c := range byCategory {
				categories = append(categories, c)
			}
			sort.Strings(categories)

			var sb strings.Builder
			for _, c := range categories {
				sort.Strings(byCategory[c])
				fmt.Fprintf(&sb, "%s: %s\n", c, strings.Join(byCategory[c], ", "))
			}
			return strings.TrimRight(sb.String(), "\n"), nil
		},
	})

	return r
}

func (r *Registry) register(cmd Command) {
	r.commands[cmd.Name] = cmd
	r.order = append(r.order, cmd.Name)
}

// IsCommand reports whether a message should be handled as a slash command.
func IsCommand(message string) bool {
	return strings.HasPrefix(strings.TrimSpace(message), "/")
}

// Execute runs the command in the message. Unknown commands return a usage
// hint rather than an error so the reply still reaches the user.
func (r *Registry) Execute(ctx context.Context, chatID, message string) (string, error) {
	fields := strings.Fields(strings.TrimSpace(message))
	if len(fields) == 0 {
		return "", fmt.Errorf("empty command")
	}

	cmd, ok := r.commands[fields[0]]
	if !ok {
		return fmt.Sprintf("Unknown command %s. Try /list-commands.", fields[0]), nil
	}
	return cmd.run(ctx, chatID, fields[1:])
}

// List returns the commands in registration order.
func (r *Registry) List() []Command {
	out := make([]Command, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.commands[name])
	}
	return out
}
