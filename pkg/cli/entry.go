package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/funvibe/typetag/internal/codec"
	"github.com/funvibe/typetag/internal/config"
	"github.com/funvibe/typetag/internal/introspect"
	"github.com/funvibe/typetag/internal/store"
	"github.com/funvibe/typetag/internal/subtype"
	"github.com/funvibe/typetag/internal/typesystem"
	"github.com/funvibe/typetag/pkg/typetag"
	"github.com/mattn/go-isatty"
)

const usage = `Usage: typetag <command> [flags] [args]

Commands:
  render <tag>...             print tags (--normal for canonical form)
  eq <a> <b>                  structural equality
  sub <a> <b>                 subtype check a <: b
  combine <ctor> <arg>...     apply a type constructor; "_" leaves a hole
  encode <tag>                binary bundle (or --yaml) to stdout or -o file
  decode <file>               print a tag from a binary or YAML encoding
  save <name> <tag>           store a tag and its registry
  load [name]                 print a stored tag, or list stored names
  inspect <dir|file.yaml> [pattern...]
                              print the tags and registry of Go packages or a universe file

Flags:
  --config <file>    engine config (default: nearest typetag.yaml)
  --universe <file>  YAML universe supplying the registry and named tags
  --db <file>        SQLite store for save/load
  -o <file>          output file for encode
  --yaml             YAML instead of binary / plain output
  --normal           render canonical forms
  --trace            log every subtype step to stderr
`

type flags struct {
	config   string
	universe string
	db       string
	output   string
	yaml     bool
	normal   bool
	trace    bool
	version  bool
	help     bool
}

// CLI runs one typetag command. Output goes to Stdout and Stderr.
type CLI struct {
	Args   []string
	Stdout io.Writer
	Stderr io.Writer

	// Color wraps true/false answers in ANSI colours.
	Color bool

	flags    flags
	cfg      *config.Config
	trace    bool
	universe *introspect.Universe
}

func New(args []string, stdout, stderr io.Writer) *CLI {
	return &CLI{Args: args, Stdout: stdout, Stderr: stderr}
}

// Run is the entry point of cmd/typetag.
func Run() {
	defer func() {
		if r := recover(); r != nil {
			if os.Getenv("DEBUG") == "1" {
				panic(r)
			}
			fmt.Fprintf(os.Stderr, "Internal error: %v\n", r)
			fmt.Fprintln(os.Stderr, "This is a bug. Please report it.")
			os.Exit(1)
		}
	}()

	c := New(os.Args[1:], os.Stdout, os.Stderr)
	c.Color = useColor(os.Stdout)
	os.Exit(c.Execute())
}

// useColor follows the NO_COLOR convention and only colours terminals.
func useColor(f *os.File) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Execute runs the command and returns the process exit code.
func (c *CLI) Execute() int {
	args, err := c.parseFlags(c.Args)
	if err != nil {
		fmt.Fprintf(c.Stderr, "Error: %v\n", err)
		return 2
	}
	if c.flags.version {
		fmt.Fprintln(c.Stdout, "typetag "+config.Version)
		return 0
	}
	if c.flags.help || len(args) == 0 {
		fmt.Fprint(c.Stdout, usage)
		if len(args) == 0 && !c.flags.help {
			return 2
		}
		return 0
	}

	if err := c.setup(); err != nil {
		fmt.Fprintf(c.Stderr, "Error: %v\n", err)
		return 1
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "render":
		err = c.handleRender(rest)
	case "eq":
		err = c.handleCompare(rest, (*typetag.TypeTag).EqualTo)
	case "sub":
		err = c.handleCompare(rest, (*typetag.TypeTag).SubtypeOf)
	case "combine":
		err = c.handleCombine(rest)
	case "encode":
		err = c.handleEncode(rest)
	case "decode":
		err = c.handleDecode(rest)
	case "save":
		err = c.handleSave(rest)
	case "load":
		err = c.handleLoad(rest)
	case "inspect":
		err = c.handleInspect(rest)
	case "help":
		fmt.Fprint(c.Stdout, usage)
		return 0
	default:
		fmt.Fprintf(c.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprintln(c.Stderr, "Available: combine, decode, encode, eq, inspect, load, render, save, sub")
		return 2
	}
	if err != nil {
		fmt.Fprintf(c.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (c *CLI) parseFlags(args []string) ([]string, error) {
	var rest []string
	value := func(i int, name string) (string, error) {
		if i+1 >= len(args) {
			return "", fmt.Errorf("%s requires a value", name)
		}
		return args[i+1], nil
	}
	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--config":
			c.flags.config, err = value(i, args[i])
			i++
		case "--universe", "-u":
			c.flags.universe, err = value(i, args[i])
			i++
		case "--db":
			c.flags.db, err = value(i, args[i])
			i++
		case "-o", "--output":
			c.flags.output, err = value(i, args[i])
			i++
		case "--yaml":
			c.flags.yaml = true
		case "--normal":
			c.flags.normal = true
		case "--trace":
			c.flags.trace = true
		case "-v", "-version", "--version":
			c.flags.version = true
		case "-h", "-help", "--help":
			c.flags.help = true
		default:
			if strings.HasPrefix(args[i], "--") {
				return nil, fmt.Errorf("unknown flag %s", args[i])
			}
			rest = append(rest, args[i])
		}
		if err != nil {
			return nil, err
		}
	}
	return rest, nil
}

// setup loads the config and universe and configures the shared engines.
func (c *CLI) setup() error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	c.cfg = cfg

	opts := subtype.FromConfig(cfg)
	c.trace = c.flags.trace || cfg.Trace
	if c.trace {
		opts = append(opts, subtype.WithLogger(log.New(c.Stderr, "typetag: ", 0)))
	}
	typetag.Configure(opts...)

	if c.flags.universe != "" {
		file, err := introspect.LoadUniverse(c.flags.universe)
		if err != nil {
			return err
		}
		if c.universe, err = file.Produce(); err != nil {
			return err
		}
	}
	return nil
}

func (c *CLI) loadConfig() (*config.Config, error) {
	if c.flags.config != "" {
		return config.LoadConfig(c.flags.config)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("cannot determine working directory: %w", err)
	}
	found, err := config.FindConfig(cwd)
	if err != nil {
		return nil, err
	}
	if found == "" {
		return config.Default(), nil
	}
	return config.LoadConfig(found)
}

func (c *CLI) registry() *subtype.Registry {
	if c.universe == nil {
		return nil
	}
	return c.universe.Registry
}

// operand resolves a command-line tag: a name from the universe, or a tag
// in render syntax.
func (c *CLI) operand(arg string) (*typetag.TypeTag, error) {
	if c.universe != nil {
		if t, ok := c.universe.Lookup(arg); ok {
			return typetag.New(t, c.universe.Registry)
		}
	}
	return typetag.Parse(arg, c.registry())
}

func (c *CLI) printBool(v bool) {
	s := fmt.Sprint(v)
	if c.Color {
		code := "31"
		if v {
			code = "32"
		}
		s = "\033[" + code + "m" + s + "\033[0m"
	}
	fmt.Fprintln(c.Stdout, s)
}

func (c *CLI) printTag(tt *typetag.TypeTag) {
	if c.flags.normal {
		tt = tt.Normalized()
	}
	fmt.Fprintln(c.Stdout, tt)
}

func (c *CLI) handleRender(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: typetag render <tag>...")
	}
	for _, arg := range args {
		tt, err := c.operand(arg)
		if err != nil {
			return err
		}
		c.printTag(tt)
	}
	return nil
}

func (c *CLI) handleCompare(args []string, cmp func(a, b *typetag.TypeTag) bool) error {
	if len(args) != 2 {
		return errors.New("expected exactly two tags")
	}
	a, err := c.operand(args[0])
	if err != nil {
		return err
	}
	b, err := c.operand(args[1])
	if err != nil {
		return err
	}
	c.printBool(cmp(a, b))
	return nil
}

func (c *CLI) handleCombine(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: typetag combine <ctor> <arg>...")
	}
	ctor, err := c.operand(args[0])
	if err != nil {
		return err
	}
	holes := false
	operands := make([]*typetag.TypeTag, len(args)-1)
	for i, arg := range args[1:] {
		if arg == "_" {
			holes = true
			continue
		}
		if operands[i], err = c.operand(arg); err != nil {
			return err
		}
	}
	var out *typetag.TypeTag
	if holes {
		out, err = ctor.CombineNonPos(operands...)
	} else {
		out, err = ctor.Combine(operands...)
	}
	if err != nil {
		return err
	}
	c.printTag(out)
	return nil
}

func (c *CLI) handleEncode(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: typetag encode <tag> [-o file] [--yaml]")
	}
	tt, err := c.operand(args[0])
	if err != nil {
		return err
	}
	var data []byte
	if c.flags.yaml {
		data, err = codec.MarshalTagYAML(tt.Tag())
	} else {
		data, err = tt.MarshalBinary()
	}
	if err != nil {
		return err
	}
	if c.flags.output == "" {
		_, err = c.Stdout.Write(data)
		return err
	}
	return os.WriteFile(c.flags.output, data, 0644)
}

func (c *CLI) handleDecode(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: typetag decode <file>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var tt typetag.TypeTag
	if err := tt.UnmarshalBinary(data); err == nil {
		c.printTag(&tt)
		fmt.Fprintf(c.Stdout, "registry %s (%d entries)\n", tt.Registry().ID(), tt.Registry().Len())
		return nil
	} else if errors.Is(err, codec.ErrVersion) {
		return err
	}
	t, err := codec.UnmarshalAny(data)
	if err != nil {
		return err
	}
	if c.flags.normal {
		t = typesystem.Normalize(t)
	}
	fmt.Fprintln(c.Stdout, t)
	return nil
}

func (c *CLI) openStore() (*store.Store, error) {
	path := c.flags.db
	if path == "" {
		path = c.cfg.Store
	}
	if path == "" {
		path = config.DefaultStoreFile
	}
	return store.Open(path)
}

func (c *CLI) handleSave(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: typetag save <name> <tag>")
	}
	tt, err := c.operand(args[1])
	if err != nil {
		return err
	}
	s, err := c.openStore()
	if err != nil {
		return err
	}
	defer s.Close()
	reg := tt.Registry()
	if err := s.SaveTag(context.Background(), args[0], tt.Tag(), reg); err != nil {
		return err
	}
	fmt.Fprintf(c.Stdout, "saved %s (registry %s)\n", args[0], reg.ID())
	return nil
}

func (c *CLI) handleLoad(args []string) error {
	if len(args) > 1 {
		return errors.New("usage: typetag load [name]")
	}
	s, err := c.openStore()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := context.Background()

	if len(args) == 0 {
		names, err := s.TagNames(ctx)
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(c.Stdout, n)
		}
		return nil
	}

	t, reg, err := s.LoadTag(ctx, args[0])
	if err != nil {
		return err
	}
	tt, err := typetag.New(t, reg)
	if err != nil {
		return err
	}
	c.printTag(tt)
	fmt.Fprintf(c.Stdout, "registry %s (%d entries)\n", reg.ID(), reg.Len())
	return nil
}

func (c *CLI) handleInspect(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: typetag inspect <dir|file.yaml> [pattern...]")
	}
	var producer introspect.Producer
	if strings.HasSuffix(args[0], ".yaml") || strings.HasSuffix(args[0], ".yml") {
		file, err := introspect.LoadUniverse(args[0])
		if err != nil {
			return err
		}
		producer = file
	} else {
		patterns := args[1:]
		if len(patterns) == 0 {
			patterns = []string{"./..."}
		}
		g, err := introspect.FromPackages(args[0], patterns...)
		if err != nil {
			return err
		}
		producer = g
	}

	u, err := producer.Produce()
	if err != nil {
		return err
	}
	if c.flags.yaml {
		data, err := codec.MarshalRegistryYAML(u.Registry)
		if err != nil {
			return err
		}
		_, err = c.Stdout.Write(data)
		return err
	}

	for _, name := range u.Names() {
		t, _ := u.Lookup(name)
		if c.flags.normal {
			t = typesystem.Normalize(t)
		}
		fmt.Fprintf(c.Stdout, "%s = %s\n", name, t)
	}
	for _, e := range u.Registry.Entries() {
		parents := make([]string, len(e.Parents))
		for i, p := range e.Parents {
			parents[i] = p.String()
		}
		fmt.Fprintf(c.Stdout, "%s <: %s\n", e.Child, strings.Join(parents, ", "))
	}
	for _, e := range u.Registry.NameEntries() {
		fmt.Fprintf(c.Stdout, "%s <: %s\n", e.Name, strings.Join(e.Parents, ", "))
	}
	return nil
}
