package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/geneweb/templconv/pkg/ast"
	"github.com/geneweb/templconv/pkg/bridge"
	"github.com/geneweb/templconv/pkg/config"
	"github.com/geneweb/templconv/pkg/format"
	"github.com/geneweb/templconv/pkg/jinja2"
	"github.com/geneweb/templconv/pkg/pipeline"
	"github.com/geneweb/templconv/pkg/template"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	inputDir   string
	outputDir  string
	workers    int
	printTree  bool
)

var rootCmd = cobra.Command{
	Use:           "templconv",
	Short:         "Convert geneweb templates to Jinja2",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

// loadConfig reads the config file and applies the command line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("in") {
		cfg.InputDir = inputDir
	}
	if flags.Changed("out") {
		cfg.OutputDir = outputDir
	}
	if flags.Changed("workers") {
		cfg.Workers = workers
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newPipeline opens the configured parser and builds a pipeline around it.
// The caller closes the parser.
func newPipeline(cfg *config.Config) (*pipeline.Pipeline, bridge.Parser, error) {
	rw, err := template.NewRewriter(cfg.Rules)
	if err != nil {
		return nil, nil, err
	}
	parser, err := cfg.OpenParser()
	if err != nil {
		return nil, nil, err
	}
	opts := pipeline.Options{
		Parser:           parser,
		Rewriter:         rw,
		OutputDir:        cfg.OutputDir,
		OutputExt:        cfg.OutputExt,
		GraphExt:         cfg.GraphExt,
		Workers:          cfg.Workers,
		GeneratorOptions: cfg.GeneratorOptions(),
		Formatter:        format.CommandFormatter{Argv: cfg.Formatter},
	}
	if len(cfg.Linter) > 0 {
		opts.Linter = format.CommandLinter{Argv: cfg.Linter, Timeout: cfg.LintTimeout}
	}
	return pipeline.New(opts), parser, nil
}

func closeParser(p bridge.Parser) {
	if err := bridge.Close(p); err != nil {
		slog.Warn("closing parser", "error", err)
	}
}

func discover(cfg *config.Config) ([]pipeline.Source, error) {
	sources, err := pipeline.Discover(cfg.InputDir, cfg.SourceExt)
	if err != nil {
		return nil, err
	}
	slog.Info("found template files", "count", len(sources), "dir", cfg.InputDir)
	return sources, nil
}

func printStats(res *pipeline.Result) {
	if res.Corpus == nil {
		return
	}
	st := res.Corpus.Stats()
	fmt.Println("Template Analysis Statistics:")
	fmt.Printf("Total templates analyzed: %d\n", st.Templates)
	fmt.Printf("Unique macros found: %d\n", st.Macros)
	fmt.Printf("Unique variables found: %d\n", st.Variables)
	fmt.Printf("Templates included by others: %d\n", st.Included)
	fmt.Printf("Root templates: %d\n", st.Roots)
}

func failed(res *pipeline.Result) error {
	if err := res.Err(); err != nil {
		return fmt.Errorf("%d templates failed: %w", len(res.Failures), err)
	}
	return nil
}

var convertCmd = cobra.Command{
	Use:   "convert",
	Short: "Convert every template of the input directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		sources, err := discover(cfg)
		if err != nil {
			return err
		}
		p, parser, err := newPipeline(cfg)
		if err != nil {
			return err
		}
		defer closeParser(parser)

		res, err := p.Run(cmd.Context(), sources)
		if err != nil {
			return err
		}
		printStats(res)
		if res.Lint != nil && cfg.LintReport != "" {
			if err := writeReport(cfg.LintReport, res.Lint); err != nil {
				return err
			}
			slog.Info("wrote lint report", "path", cfg.LintReport, "issues", res.Lint.IssueCount())
		}
		return failed(res)
	},
}

func writeReport(path string, r *format.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing lint report: %w", err)
	}
	if _, err := r.WriteTo(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

var graphCmd = cobra.Command{
	Use:   "graph",
	Short: "Write the dependency graph of every template without converting it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		sources, err := discover(cfg)
		if err != nil {
			return err
		}
		p, parser, err := newPipeline(cfg)
		if err != nil {
			return err
		}
		defer closeParser(parser)

		ctx := cmd.Context()
		res := &pipeline.Result{}
		units, failures, err := p.Load(ctx, sources)
		if err != nil {
			return err
		}
		res.Units, res.Failures = units, failures
		res.Corpus = pipeline.Analyze(units)
		graphs, failures, err := p.WriteGraphs(ctx, units, res.Corpus)
		if err != nil {
			return err
		}
		res.Graphs = graphs
		res.Failures = append(res.Failures, failures...)
		printStats(res)
		return failed(res)
	},
}

var dumpCmd = cobra.Command{
	Use:   "dump FILE",
	Short: "Print the parsed tree of a template as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		parser, err := cfg.OpenParser()
		if err != nil {
			return err
		}
		defer closeParser(parser)

		tree, err := parser.Parse(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return ast.EncodeJSON(os.Stdout, tree)
	},
}

var checkCmd = cobra.Command{
	Use:   "check FILE...",
	Short: "Check generated templates with the Jinja2 syntax checker",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var errs []error
		for _, path := range args {
			src, err := os.ReadFile(path)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			doc, err := jinja2.Parse(string(src))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", filepath.Clean(path), err))
				continue
			}
			slog.Debug("template ok", "path", path, "includes", jinja2.Includes(doc))
			if printTree {
				fmt.Printf("%s:\n%s", path, jinja2.Pretty(doc))
			}
		}
		return errors.Join(errs...)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a .yaml or .star configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	for _, cmd := range []*cobra.Command{&convertCmd, &graphCmd} {
		cmd.Flags().StringVar(&inputDir, "in", "", "Directory holding the legacy templates")
		cmd.Flags().StringVar(&outputDir, "out", "", "Directory receiving the generated files")
		cmd.Flags().IntVar(&workers, "workers", 0, "Templates processed in parallel (0: one per CPU)")
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(&dumpCmd)
	checkCmd.Flags().BoolVar(&printTree, "tree", false, "Print the parsed tree of every checked file")
	rootCmd.AddCommand(&checkCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
