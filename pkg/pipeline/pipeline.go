// Package pipeline converts a corpus of legacy templates.
//
// A run has two parallel phases separated by a barrier. Phase one parses
// and processes every template on its own. The corpus aggregates are then
// folded from all processed units. Phase two generates, formats and writes
// every template and its dependency graph against the frozen corpus. A
// template that fails is reported and skipped; the others carry on.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/geneweb/templconv/pkg/analyze"
	"github.com/geneweb/templconv/pkg/bridge"
	"github.com/geneweb/templconv/pkg/format"
	"github.com/geneweb/templconv/pkg/jinjagen"
	"github.com/geneweb/templconv/pkg/template"
	"golang.org/x/sync/errgroup"
)

// Stage names the step at which a template failed.
type Stage string

const (
	StageParse    Stage = "parse"
	StageProcess  Stage = "process"
	StageGenerate Stage = "generate"
	StageFormat   Stage = "format"
	StageWrite    Stage = "write"
	StageGraph    Stage = "graph"
)

// TemplateError is the failure of one template.
type TemplateError struct {
	Name  string
	Stage Stage
	Err   error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %s: %s: %v", e.Name, e.Stage, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// Source is one legacy template file.
type Source struct {
	Name string // path relative to the input directory, without extension
	Path string
}

// Discover lists the files under dir ending in ext, sorted by name.
func Discover(dir, ext string) ([]Source, error) {
	var sources []Source
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ext) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		sources = append(sources, Source{
			Name: filepath.ToSlash(strings.TrimSuffix(rel, ext)),
			Path: path,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: discover %s: %w", dir, err)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })
	return sources, nil
}

// Options configures a Pipeline. Parser is required.
type Options struct {
	Parser    bridge.Parser
	Rewriter  *template.Rewriter
	OutputDir string
	OutputExt string // without leading dot
	GraphExt  string // without leading dot
	// Workers bounds the per-template concurrency; 0 means one per CPU.
	Workers          int
	GeneratorOptions []jinjagen.Option
	Formatter        format.Formatter
	Linter           format.Linter
	Logger           *slog.Logger
}

// Pipeline runs conversions.
type Pipeline struct {
	opts Options
	log  *slog.Logger
}

func New(opts Options) *Pipeline {
	if opts.Formatter == nil {
		opts.Formatter = format.CommandFormatter{}
	}
	if opts.OutputExt == "" {
		opts.OutputExt = "html.j2"
	}
	if opts.GraphExt == "" {
		opts.GraphExt = "dot"
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{opts: opts, log: log}
}

// Result is the outcome of a run.
type Result struct {
	Units    []*template.Unit
	Corpus   *analyze.Corpus
	Written  []string
	Graphs   []string
	Failures []*TemplateError
	Lint     *format.Report
}

// Err joins the template failures, or returns nil when there are none.
func (r *Result) Err() error {
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

func (r *Result) fail(errs ...*TemplateError) {
	for _, err := range errs {
		if err != nil {
			r.Failures = append(r.Failures, err)
		}
	}
}

// Run converts sources: it loads them, analyses the corpus, writes the
// generated templates and graphs, and lints the written files.
func (p *Pipeline) Run(ctx context.Context, sources []Source) (*Result, error) {
	res := &Result{}
	units, failures, err := p.Load(ctx, sources)
	res.Units = units
	res.fail(failures...)
	if err != nil {
		return res, err
	}

	res.Corpus = Analyze(units)
	st := res.Corpus.Stats()
	p.log.Info("analysed corpus",
		"templates", st.Templates,
		"macros", st.Macros,
		"variables", st.Variables,
		"included", st.Included,
		"roots", st.Roots)

	written, failures, err := p.Generate(ctx, units, res.Corpus)
	res.Written = written
	res.fail(failures...)
	if err != nil {
		return res, err
	}

	graphs, failures, err := p.WriteGraphs(ctx, units, res.Corpus)
	res.Graphs = graphs
	res.fail(failures...)
	if err != nil {
		return res, err
	}

	if p.opts.Linter != nil {
		if res.Lint, err = p.Lint(ctx, written); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (p *Pipeline) workers(n int) int {
	w := p.opts.Workers
	if w <= 0 {
		w = runtime.NumCPU()
	}
	return max(1, min(w, n))
}

// each runs fn for every index in [0, n) on the worker pool and collects
// the non-nil failures in index order.
func (p *Pipeline) each(ctx context.Context, n int, fn func(ctx context.Context, i int) *TemplateError) ([]*TemplateError, error) {
	failures := make([]*TemplateError, n)
	g := new(errgroup.Group)
	g.SetLimit(p.workers(n))
	for i := range n {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			failures[i] = fn(ctx, i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	var out []*TemplateError
	for _, f := range failures {
		if f != nil {
			out = append(out, f)
		}
	}
	return out, nil
}

// Load parses and processes every source. Units of failed sources are left
// out; the returned units keep the order of sources.
func (p *Pipeline) Load(ctx context.Context, sources []Source) ([]*template.Unit, []*TemplateError, error) {
	loaded := make([]*template.Unit, len(sources))
	failures, err := p.each(ctx, len(sources), func(ctx context.Context, i int) *TemplateError {
		u, terr := p.load(ctx, sources[i])
		if terr != nil {
			p.log.Error("template failed", "name", terr.Name, "stage", terr.Stage, "error", terr.Err)
			return terr
		}
		loaded[i] = u
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	var units []*template.Unit
	for _, u := range loaded {
		if u != nil {
			units = append(units, u)
		}
	}
	return units, failures, nil
}

func (p *Pipeline) load(ctx context.Context, src Source) (*template.Unit, *TemplateError) {
	tree, err := p.opts.Parser.Parse(ctx, src.Path)
	if err != nil {
		return nil, &TemplateError{Name: src.Name, Stage: StageParse, Err: err}
	}
	u := template.New(src.Name, src.Path, tree)
	u.OutputPath = filepath.Join(p.opts.OutputDir, filepath.FromSlash(src.Name)+"."+p.opts.OutputExt)
	u.GraphPath = filepath.Join(p.opts.OutputDir, filepath.FromSlash(src.Name)+"."+p.opts.GraphExt)
	if err := u.Process(p.opts.Rewriter); err != nil {
		return nil, &TemplateError{Name: src.Name, Stage: StageProcess, Err: err}
	}
	st := u.Stats()
	p.log.Info("processed template",
		"name", u.Name,
		"nodes", st.Nodes,
		"macros", st.Macros,
		"includes", st.Includes,
		"variables", st.Variables)
	return u, nil
}

// Analyze folds the summaries of units into the corpus aggregates. It must
// only run once every unit is processed.
func Analyze(units []*template.Unit) *analyze.Corpus {
	summaries := make([]analyze.Summary, len(units))
	for i, u := range units {
		summaries[i] = analyze.Summarize(u)
	}
	return analyze.Fold(summaries)
}

// Generate renders, formats and writes every unit. It returns the paths
// written, in unit order.
func (p *Pipeline) Generate(ctx context.Context, units []*template.Unit, corpus *analyze.Corpus) ([]string, []*TemplateError, error) {
	opts := append([]jinjagen.Option{jinjagen.WithClassifier(corpus)}, p.opts.GeneratorOptions...)
	gen := jinjagen.New(opts...)
	ok := make([]bool, len(units))
	failures, err := p.each(ctx, len(units), func(ctx context.Context, i int) *TemplateError {
		u := units[i]
		if terr := p.generate(ctx, gen, u); terr != nil {
			p.log.Error("template failed", "name", terr.Name, "stage", terr.Stage, "error", terr.Err)
			return terr
		}
		ok[i] = true
		p.log.Debug("wrote template", "name", u.Name, "path", u.OutputPath)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return pathsOf(units, ok, func(u *template.Unit) string { return u.OutputPath }), failures, nil
}

func (p *Pipeline) generate(ctx context.Context, gen *jinjagen.Generator, u *template.Unit) *TemplateError {
	out, err := gen.Render(u)
	if err != nil {
		return &TemplateError{Name: u.Name, Stage: StageGenerate, Err: err}
	}
	if out, err = p.opts.Formatter.Format(ctx, out); err != nil {
		return &TemplateError{Name: u.Name, Stage: StageFormat, Err: err}
	}
	if err := writeFile(u.OutputPath, strings.NewReader(out)); err != nil {
		return &TemplateError{Name: u.Name, Stage: StageWrite, Err: err}
	}
	return nil
}

// WriteGraphs writes the dependency graph of every unit.
func (p *Pipeline) WriteGraphs(ctx context.Context, units []*template.Unit, corpus *analyze.Corpus) ([]string, []*TemplateError, error) {
	ok := make([]bool, len(units))
	failures, err := p.each(ctx, len(units), func(ctx context.Context, i int) *TemplateError {
		u := units[i]
		g, err := corpus.Graph(u.Name)
		if err == nil {
			var dot string
			if dot, err = analyze.DOT(g); err == nil {
				err = writeFile(u.GraphPath, strings.NewReader(dot))
			}
		}
		if err != nil {
			terr := &TemplateError{Name: u.Name, Stage: StageGraph, Err: err}
			p.log.Error("template failed", "name", terr.Name, "stage", terr.Stage, "error", terr.Err)
			return terr
		}
		ok[i] = true
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return pathsOf(units, ok, func(u *template.Unit) string { return u.GraphPath }), failures, nil
}

func pathsOf(units []*template.Unit, ok []bool, path func(*template.Unit) string) []string {
	var out []string
	for i, u := range units {
		if ok[i] {
			out = append(out, path(u))
		}
	}
	return out
}

// Lint runs the linter over paths. A file the linter fails on is logged and
// left out of the report; it never fails the run.
func (p *Pipeline) Lint(ctx context.Context, paths []string) (*format.Report, error) {
	report := &format.Report{}
	if p.opts.Linter == nil {
		return report, nil
	}
	var mu sync.Mutex
	issues := make(map[string][]string, len(paths))
	_, err := p.each(ctx, len(paths), func(ctx context.Context, i int) *TemplateError {
		found, err := p.opts.Linter.Lint(ctx, paths[i])
		if err != nil {
			p.log.Warn("lint failed", "path", paths[i], "error", err)
			return nil
		}
		mu.Lock()
		issues[paths[i]] = found
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		if found, ok := issues[path]; ok {
			report.Add(path, found)
		}
	}
	return report, nil
}
