// Package catalog names the engine's commands, their arguments and how each
// reply is shaped, and exposes them as a registry invocable by name.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/designctl/internal/engine"
	"github.com/rs/zerolog/log"
)

// Namespace prefixes every registered command name.
const Namespace = "ros/"

var (
	ErrUnknownName      = errors.New("catalog: command name not registered")
	ErrDuplicateName    = errors.New("catalog: command name already registered")
	ErrEmptyName        = errors.New("catalog: command name required")
	ErrEmptyKey         = errors.New("catalog: command key required")
	ErrProtectedArgName = errors.New("catalog: argument name is protected")
)

var protectedArgs = map[string]struct{}{
	"client": {},
	"key":    {},
}

// ArgSpec describes one request argument. Required arguments must be
// non-empty once the default has been applied.
type ArgSpec struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Default  string `json:"default,omitempty"`
}

type Command struct {
	Name        string
	Key         string
	Description string
	Args        []ArgSpec
	Result      ResultShape
	// Placeholder sends one empty segment when the command has no arguments.
	Placeholder bool
}

// Executor runs one keyed request. *engine.Dispatcher satisfies it.
type Executor interface {
	Execute(ctx context.Context, key string, args ...any) ([]string, error)
}

type Catalog struct {
	exec Executor

	mu       sync.RWMutex
	commands map[string]Command
}

// New returns a catalog with the built-in commands registered.
func New(exec Executor) *Catalog {
	c := &Catalog{
		exec:     exec,
		commands: make(map[string]Command),
	}
	for _, cmd := range Builtins() {
		if err := c.Register(cmd); err != nil {
			panic(err)
		}
	}
	return c
}

// Qualify returns name with the registry namespace.
func Qualify(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, Namespace) {
		return name
	}
	return Namespace + name
}

func (c *Catalog) Register(cmd Command) error {
	if strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(cmd.Name), Namespace)) == "" {
		return ErrEmptyName
	}
	if strings.TrimSpace(cmd.Key) == "" {
		return ErrEmptyKey
	}
	seen := make(map[string]struct{}, len(cmd.Args))
	for _, arg := range cmd.Args {
		if _, ok := protectedArgs[arg.Name]; ok {
			return fmt.Errorf("%w: %q", ErrProtectedArgName, arg.Name)
		}
		if _, ok := seen[arg.Name]; ok {
			return fmt.Errorf("catalog: %s: duplicate argument %q", cmd.Name, arg.Name)
		}
		seen[arg.Name] = struct{}{}
	}

	name := Qualify(cmd.Name)
	cmd.Name = name
	cmd.Args = append([]ArgSpec(nil), cmd.Args...)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.commands[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	c.commands[name] = cmd
	log.Debug().Str("name", name).Str("key", cmd.Key).Int("args", len(cmd.Args)).Msg("catalog.Register")
	return nil
}

func (c *Catalog) Lookup(name string) (Command, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cmd, ok := c.commands[Qualify(name)]
	return cmd, ok
}

// Names returns every registered name, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.commands))
	for name := range c.commands {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Description is what a remote caller needs to invoke a command.
type Description struct {
	Name        string    `json:"name"`
	Key         string    `json:"key"`
	Description string    `json:"description"`
	Args        []ArgSpec `json:"args"`
	Returns     []string  `json:"returns"`
	Shape       string    `json:"shape"`
}

func (c *Catalog) Describe(name string) (Description, error) {
	cmd, ok := c.Lookup(name)
	if !ok {
		return Description{}, fmt.Errorf("%w: %q", ErrUnknownName, name)
	}
	return Description{
		Name:        cmd.Name,
		Key:         cmd.Key,
		Description: cmd.Description,
		Args:        append([]ArgSpec{}, cmd.Args...),
		Returns:     cmd.Result.Fields(),
		Shape:       cmd.Result.Kind.String(),
	}, nil
}

// Invoke validates kwargs against the named command, executes it and
// shapes the reply. Missing arguments fail before anything is sent.
func (c *Catalog) Invoke(ctx context.Context, name string, kwargs map[string]any) (Result, error) {
	cmd, ok := c.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownName, name)
	}
	args, err := cmd.bind(kwargs)
	if err != nil {
		return nil, err
	}
	payload, err := c.exec.Execute(ctx, cmd.Key, args...)
	if err != nil {
		return nil, err
	}
	res, err := cmd.Result.Apply(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd.Name, err)
	}
	return res, nil
}

func (cmd Command) bind(kwargs map[string]any) ([]any, error) {
	for k := range kwargs {
		if !cmd.hasArg(k) {
			return nil, fmt.Errorf("%w: %s: unexpected argument %q", engine.ErrInvalidArgument, cmd.Name, k)
		}
	}
	args := make([]any, 0, len(cmd.Args)+1)
	for _, spec := range cmd.Args {
		v, present := kwargs[spec.Name]
		if !present || v == nil {
			v = spec.Default
		}
		if spec.Required && isEmpty(v) {
			return nil, &engine.MissingArgumentError{Command: cmd.Name, Arg: spec.Name}
		}
		args = append(args, v)
	}
	if len(args) == 0 && cmd.Placeholder {
		args = append(args, "")
	}
	return args, nil
}

func (cmd Command) hasArg(name string) bool {
	for _, spec := range cmd.Args {
		if spec.Name == name {
			return true
		}
	}
	return false
}

func isEmpty(v any) bool {
	switch s := v.(type) {
	case nil:
		return true
	case string:
		return s == ""
	case []byte:
		return len(s) == 0
	default:
		return false
	}
}
