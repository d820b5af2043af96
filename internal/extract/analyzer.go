package extract

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/buildlens/buildlens/internal/impact"
	"github.com/buildlens/buildlens/internal/parser"
)

// DefaultCacheSize is the number of files whose declarations are kept.
const DefaultCacheSize = 1024

type cachedFile struct {
	modTime time.Time
	size    int64
	decls   []impact.Declaration
}

// Analyzer is the syntax analysis service handed to the impact resolver.
// It resolves paths against a project root and caches declarations per
// file, keyed on modification time and size. Safe for concurrent use.
type Analyzer struct {
	root   string
	cache  *lru.Cache[string, cachedFile]
	logger *slog.Logger
}

var _ impact.DeclarationProvider = (*Analyzer)(nil)

// NewAnalyzer creates an Analyzer for files under root.
func NewAnalyzer(root string, cacheSize int, logger *slog.Logger) (*Analyzer, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, cachedFile](cacheSize)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{root: root, cache: cache, logger: logger}, nil
}

// Declarations returns the declarations of path. Unsupported extensions and
// missing files yield an empty list; read and parse failures are errors.
func (a *Analyzer) Declarations(ctx context.Context, path string) ([]impact.Declaration, error) {
	lang := parser.LanguageFromPath(path)
	if lang == "" {
		return nil, nil
	}

	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(a.root, path)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			a.Invalidate(abs)
			return nil, nil
		}
		return nil, &parser.FileReadError{Path: abs, Err: err}
	}

	if cached, ok := a.cache.Get(abs); ok && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
		return cached.decls, nil
	}

	p, err := parser.NewParser(lang)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	result, err := p.ParseFile(ctx, abs)
	if err != nil {
		if parser.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer result.Close()

	if result.HasErrors() {
		a.logger.Debug("syntax errors, declarations may be partial", "path", path)
	}

	decls := NewFunctionExtractor(result).ExtractDeclarations()
	a.cache.Add(abs, cachedFile{modTime: info.ModTime(), size: info.Size(), decls: decls})
	return decls, nil
}

// Invalidate drops any cached declarations for path.
func (a *Analyzer) Invalidate(path string) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.root, path)
	}
	a.cache.Remove(path)
}

// CachedFiles returns how many files are currently cached.
func (a *Analyzer) CachedFiles() int {
	return a.cache.Len()
}
