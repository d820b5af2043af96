package impact

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds parallel declaration lookups.
const DefaultConcurrency = 8

// Resolver turns changed ranges into changed function identities.
type Resolver struct {
	provider    DeclarationProvider
	logger      *slog.Logger
	concurrency int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for per-file warnings.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithConcurrency bounds how many files are resolved at once.
func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// NewResolver creates a Resolver backed by provider.
func NewResolver(provider DeclarationProvider, opts ...Option) *Resolver {
	r := &Resolver{
		provider:    provider,
		logger:      slog.Default(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	// Functions is the deduplicated set of changed functions, sorted.
	Functions []ChangedFunctionKey `yaml:"functions" json:"functions"`
	// FallbackFiles lists files where no range hit a declaration and every
	// declaration was taken instead.
	FallbackFiles []string `yaml:"fallback_files,omitempty" json:"fallback_files,omitempty"`
	// Warnings lists files skipped because their declarations could not be read.
	Warnings []Warning `yaml:"warnings,omitempty" json:"warnings,omitempty"`
}

type fileResult struct {
	path     string
	keys     []ChangedFunctionKey
	fallback bool
	warning  *Warning
}

// Resolve maps changed files to the functions they touch. Per-file lookup
// failures become warnings; only cancellation is returned as an error.
func (r *Resolver) Resolve(ctx context.Context, files []FileChanges) (*Resolution, error) {
	results := make([]fileResult, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, fc := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = r.resolveFile(gctx, fc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return merge(results), nil
}

func (r *Resolver) resolveFile(ctx context.Context, fc FileChanges) fileResult {
	res := fileResult{path: fc.Path}

	decls, err := r.provider.Declarations(ctx, fc.Path)
	if err != nil {
		r.logger.Warn("skipping file, declarations unavailable", "path", fc.Path, "error", err)
		res.warning = &Warning{Path: fc.Path, Message: err.Error()}
		return res
	}
	if len(decls) == 0 {
		r.logger.Debug("no declarations", "path", fc.Path)
		return res
	}

	ix := NewRangeIndex(decls)
	seen := make(map[ChangedFunctionKey]bool)
	for _, cr := range fc.Ranges {
		for _, d := range ix.FindOverlapping(cr) {
			key := keyFor(fc.Path, d)
			if !seen[key] {
				seen[key] = true
				res.keys = append(res.keys, key)
			}
		}
	}

	if len(res.keys) == 0 {
		r.logger.Debug("no declaration overlaps the change, taking whole file",
			"path", fc.Path, "declarations", ix.Len())
		res.fallback = true
		for _, d := range ix.All() {
			key := keyFor(fc.Path, d)
			if !seen[key] {
				seen[key] = true
				res.keys = append(res.keys, key)
			}
		}
	}
	return res
}

// merge is the single writer over per-file results.
func merge(results []fileResult) *Resolution {
	set := make(map[ChangedFunctionKey]bool)
	fallback := make(map[string]bool)
	out := &Resolution{Functions: []ChangedFunctionKey{}}

	for _, res := range results {
		for _, k := range res.keys {
			if !set[k] {
				set[k] = true
				out.Functions = append(out.Functions, k)
			}
		}
		if res.fallback && !fallback[res.path] {
			fallback[res.path] = true
			out.FallbackFiles = append(out.FallbackFiles, res.path)
		}
		if res.warning != nil {
			out.Warnings = append(out.Warnings, *res.warning)
		}
	}

	sort.Slice(out.Functions, func(i, j int) bool {
		return out.Functions[i].Less(out.Functions[j])
	})
	sort.Strings(out.FallbackFiles)
	sort.Slice(out.Warnings, func(i, j int) bool {
		return out.Warnings[i].Path < out.Warnings[j].Path
	})
	return out
}

func keyFor(path string, d Declaration) ChangedFunctionKey {
	return ChangedFunctionKey{
		FilePath:  path,
		Name:      d.Name,
		StartLine: d.StartLine,
		EndLine:   d.EndLine,
	}
}
