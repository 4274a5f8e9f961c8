// Command intentc compiles Intent Definition Language files into backend
// application projects.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/MAsif786/intentc/internal/analyzer"
	"github.com/MAsif786/intentc/internal/ast"
	"github.com/MAsif786/intentc/internal/cli"
	"github.com/MAsif786/intentc/internal/codegen"
	_ "github.com/MAsif786/intentc/internal/codegen/python" // registers the python target
	"github.com/MAsif786/intentc/internal/config"
	cerr "github.com/MAsif786/intentc/internal/errors"
	"github.com/MAsif786/intentc/internal/ir"
	"github.com/MAsif786/intentc/internal/parser"
	"github.com/MAsif786/intentc/internal/preprocess"
	"github.com/MAsif786/intentc/internal/version"
)

// Exit codes, part of the CLI contract: CI scripts branch on these.
const (
	exitOK        = 0
	exitUsage     = 1
	exitParse     = 2
	exitSemantic  = 3
	exitGenerator = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return exitUsage
	}

	switch args[0] {
	case "compile":
		return cmdCompile(args[1:])
	case "check":
		return cmdCheck(args[1:])
	case "init":
		return cmdInit(args[1:])
	case "version", "--version", "-v":
		fmt.Printf("intentc %s\n", version.Info())
		return exitOK
	case "help", "--help", "-h":
		printUsage()
		return exitOK
	default:
		fmt.Fprintln(os.Stderr, cli.Error(fmt.Sprintf("unknown command %q", args[0])))
		printUsage()
		return exitUsage
	}
}

// options is the parsed flag set shared by compile and check.
type options struct {
	input         string
	output        string
	target        string
	configPath    string
	dump          string
	verbose       bool
	noAuthActions bool
}

func parseOptions(args []string) (*options, error) {
	opts := &options{}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		value := func() (string, error) {
			if i+1 >= len(args) {
				return "", fmt.Errorf("%s needs a value", arg)
			}
			i++
			return args[i], nil
		}

		switch {
		case arg == "--input":
			v, err := value()
			if err != nil {
				return nil, err
			}
			opts.input = v
		case arg == "--output":
			v, err := value()
			if err != nil {
				return nil, err
			}
			opts.output = v
		case arg == "--target":
			v, err := value()
			if err != nil {
				return nil, err
			}
			opts.target = v
		case arg == "--config":
			v, err := value()
			if err != nil {
				return nil, err
			}
			opts.configPath = v
		case strings.HasPrefix(arg, "--dump="):
			opts.dump = strings.TrimPrefix(arg, "--dump=")
		case arg == "--dump":
			v, err := value()
			if err != nil {
				return nil, err
			}
			opts.dump = v
		case arg == "--verbose":
			opts.verbose = true
		case arg == "--no-auth-actions":
			opts.noAuthActions = true
		default:
			return nil, fmt.Errorf("unknown flag %q", arg)
		}
	}

	if opts.input == "" {
		return nil, fmt.Errorf("--input is required")
	}
	switch opts.dump {
	case "", "ast", "ir", "ir-json":
	default:
		return nil, fmt.Errorf("--dump takes \"ast\", \"ir\", or \"ir-json\", not %q", opts.dump)
	}
	return opts, nil
}

// logger tags verbose lines with a per-invocation correlation ID, so
// interleaved compiler runs in CI logs can be told apart.
type logger struct {
	verbose bool
	runID   string
}

func newLogger(verbose bool) *logger {
	return &logger{verbose: verbose, runID: uuid.NewString()[:8]}
}

func (l *logger) logf(format string, args ...interface{}) {
	if l.verbose {
		fmt.Fprintf(os.Stderr, "%s %s\n", cli.Muted("["+l.runID+"]"), fmt.Sprintf(format, args...))
	}
}

// frontend runs the shared pipeline: read, parse, preprocess, validate.
// A non-zero exit code means the pipeline failed and was reported.
func frontend(opts *options, log *logger) (*ast.Program, *ir.Program, *config.Config, int) {
	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.Error(err.Error()))
		return nil, nil, nil, exitUsage
	}

	source, err := os.ReadFile(opts.input)
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.Error(fmt.Sprintf("reading %s: %v", opts.input, err)))
		return nil, nil, nil, exitUsage
	}
	log.logf("read %s (%d bytes)", opts.input, len(source))

	prog, err := parser.Parse(string(source))
	if err != nil {
		var perr *parser.ParseError
		if errors.As(err, &perr) {
			fmt.Fprintln(os.Stderr, cli.Error(fmt.Sprintf("%s: %s", opts.input, perr.Error())))
		} else {
			fmt.Fprintln(os.Stderr, cli.Error(err.Error()))
		}
		return nil, nil, nil, exitParse
	}
	log.logf("parsed %d entities, %d policies, %d rules, %d actions",
		len(prog.Entities), len(prog.Policies), len(prog.Rules), len(prog.Actions))

	if !opts.noAuthActions && cfg.InjectAuthActions() {
		before := len(prog.Actions)
		preprocess.InjectAuthActions(prog)
		if injected := len(prog.Actions) - before; injected > 0 {
			log.logf("injected %d auth action(s)", injected)
		}
	}

	irProg, diags := analyzer.Validate(prog, opts.input)
	for _, w := range diags.Warnings() {
		printDiagnostic(w)
	}
	if diags.HasErrors() {
		for _, e := range diags.Errors() {
			printDiagnostic(e)
		}
		fmt.Fprintln(os.Stderr, cli.Error(fmt.Sprintf("%d error(s)", len(diags.Errors()))))
		return nil, nil, nil, exitSemantic
	}
	log.logf("validation clean, %d action(s) lowered", len(irProg.Actions))

	return prog, irProg, cfg, exitOK
}

func loadConfig(opts *options) (*config.Config, error) {
	if opts.configPath != "" {
		return config.LoadFile(opts.configPath)
	}
	return config.Load(filepath.Dir(opts.input))
}

func cmdCheck(args []string) int {
	opts, err := parseOptions(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.Error(err.Error()))
		printUsage()
		return exitUsage
	}
	log := newLogger(opts.verbose)

	prog, irProg, _, code := frontend(opts, log)
	if code != exitOK {
		return code
	}

	switch opts.dump {
	case "ast":
		out, err := yaml.Marshal(prog)
		if err != nil {
			fmt.Fprintln(os.Stderr, cli.Warn(fmt.Sprintf("dump failed: %v", err)))
			break
		}
		os.Stdout.Write(out)
	case "ir":
		out, err := ir.ToYAML(irProg)
		if err != nil {
			fmt.Fprintln(os.Stderr, cli.Warn(fmt.Sprintf("dump failed: %v", err)))
			break
		}
		os.Stdout.Write(out)
	case "ir-json":
		out, err := ir.ToJSON(irProg)
		if err != nil {
			fmt.Fprintln(os.Stderr, cli.Warn(fmt.Sprintf("dump failed: %v", err)))
			break
		}
		os.Stdout.Write(out)
		fmt.Println()
	}

	fmt.Println(cli.Success(fmt.Sprintf("%s is valid (%d entities, %d actions)",
		opts.input, len(prog.Entities), len(prog.Actions))))
	return exitOK
}

func cmdCompile(args []string) int {
	opts, err := parseOptions(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.Error(err.Error()))
		printUsage()
		return exitUsage
	}
	log := newLogger(opts.verbose)

	ctx, cancel := cli.SetupSignalHandler()
	defer cancel()

	prog, irProg, cfg, code := frontend(opts, log)
	if code != exitOK {
		return code
	}
	if ctx.Err() != nil {
		cli.Cancelled(os.Stderr)
		return exitUsage
	}

	target := opts.target
	if target == "" {
		target = cfg.DefaultTarget
	}
	if target == "" {
		target = "python"
	}
	output := opts.output
	if output == "" {
		output = cfg.DefaultOutput
	}
	if output == "" {
		fmt.Fprintln(os.Stderr, cli.Error("--output is required (or set default_output in .intentc/config.yaml)"))
		return exitUsage
	}

	build := &codegen.Build{Program: prog, IR: irProg, Options: cfg.OptionsFor(target)}

	var tree *codegen.FileTree
	genErr := cli.RunCancellable(ctx, os.Stdout, func(ctx context.Context) error {
		var err error
		tree, err = codegen.Generate(build, target)
		if err != nil {
			return err
		}
		return tree.WriteTo(output)
	})
	if ctx.Err() != nil {
		cli.Cancelled(os.Stderr)
		return exitUsage
	}
	if genErr != nil {
		var unknown *codegen.UnknownTargetError
		if errors.As(genErr, &unknown) {
			fmt.Fprintln(os.Stderr, cli.Error(genErr.Error()))
			return exitUsage
		}
		fmt.Fprintln(os.Stderr, cli.Error(genErr.Error()))
		return exitGenerator
	}

	log.logf("target %s emitted %d file(s)", target, tree.Len())
	fmt.Println(cli.Success(fmt.Sprintf("generated %d files to %s (%s)", tree.Len(), output, cli.Accent(target))))
	return exitOK
}

// cmdInit writes a starter .intentc/config.yaml into the current
// directory so later compile runs can omit --target/--output.
func cmdInit(args []string) int {
	target := "python"
	output := "./generated"

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--target":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, cli.Error("--target needs a value"))
				return exitUsage
			}
			i++
			target = args[i]
		case "--output":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, cli.Error("--output needs a value"))
				return exitUsage
			}
			i++
			output = args[i]
		default:
			fmt.Fprintln(os.Stderr, cli.Error(fmt.Sprintf("unknown flag %q", args[i])))
			printUsage()
			return exitUsage
		}
	}

	configPath := filepath.Join(".intentc", "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintln(os.Stderr, cli.Error(configPath+" already exists"))
		return exitUsage
	}

	cfg := &config.Config{DefaultTarget: target, DefaultOutput: output}
	if err := config.Save(".", cfg); err != nil {
		fmt.Fprintln(os.Stderr, cli.Error(err.Error()))
		return exitUsage
	}

	fmt.Println(cli.Success(fmt.Sprintf("wrote %s (target %s, output %s)", configPath, cli.Accent(target), output)))
	return exitOK
}

func printDiagnostic(e *cerr.CompilerError) {
	switch e.Severity {
	case cerr.SeverityWarning:
		fmt.Fprintln(os.Stderr, cli.Warn(e.Format()))
	default:
		fmt.Fprintln(os.Stderr, cli.Error(e.Format()))
	}
	if e.Suggestion != "" {
		fmt.Fprintln(os.Stderr, "  "+cli.Muted("suggestion: "+e.Suggestion))
	}
}

func printUsage() {
	fmt.Print(cli.Heading("intentc — Intent Definition Language compiler") + `

Usage:
  intentc compile --input <path> --output <dir> [--target <name>] [--verbose]
  intentc check   --input <path> [--dump=ast|ir|ir-json]
  intentc init    [--target <name>] [--output <dir>]
  intentc version

Flags:
  --input <path>      IDL source file
  --output <dir>      directory for the generated project
  --target <name>     backend target (default: python)
  --config <path>     config file (default: .intentc/config.yaml next to input)
  --dump=<form>       print the AST or process IR (YAML, or JSON for ir-json)
                      after a clean check
  --no-auth-actions   skip injecting the default auth actions
  --verbose           log pipeline stages to stderr

Exit codes:
  0 success · 1 usage error · 2 parse error · 3 semantic error · 4 generator error
`)
}
