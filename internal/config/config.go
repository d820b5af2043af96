// Package config loads .buildlens/config.yaml and applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the name of the buildlens configuration file
const ConfigFileName = "config.yaml"

// ConfigDirName is the name of the buildlens configuration directory
const ConfigDirName = ".buildlens"

// Config holds all buildlens configuration
type Config struct {
	Store  StoreConfig  `yaml:"store"`
	Diff   DiffConfig   `yaml:"diff"`
	Learn  LearnConfig  `yaml:"learn"`
	Select SelectConfig `yaml:"select"`
	Runner RunnerConfig `yaml:"runner"`

	// Root is the project directory: the parent of .buildlens, or the
	// working directory when no config exists.
	Root string `yaml:"-"`
}

// StoreConfig selects the graph store backend
type StoreConfig struct {
	Backend string `yaml:"backend" validate:"oneof=sqlite postgres dolt"`
	DSN     string `yaml:"dsn,omitempty" validate:"required_if=Backend postgres"`
	// Path is the sqlite file or dolt directory, relative to Root.
	Path string `yaml:"path,omitempty"`
}

// DiffConfig controls which changes are considered
type DiffConfig struct {
	BaseRef    string   `yaml:"base_ref" validate:"required"`
	HeadRef    string   `yaml:"head_ref,omitempty"`
	Extensions []string `yaml:"extensions" validate:"min=1,dive,startswith=."`
}

// LearnConfig locates the artifacts of a coverage run
type LearnConfig struct {
	CoveragePath     string   `yaml:"coverage_path" validate:"required"`
	ResultsPath      string   `yaml:"results_path" validate:"required"`
	TestFilePatterns []string `yaml:"test_file_patterns" validate:"min=1,dive,required"`
	Reset            bool     `yaml:"reset"`
}

// SelectConfig holds the selection policy
type SelectConfig struct {
	FallbackToAll bool   `yaml:"fallback_to_all"`
	Match         string `yaml:"match" validate:"oneof=exact overlap file"`
	Concurrency   int    `yaml:"concurrency" validate:"min=1,max=256"`
}

// RunnerConfig holds the test command
type RunnerConfig struct {
	Command string        `yaml:"command" validate:"required"`
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`
}

// ErrConfigNotFound is returned when no config directory can be found
var ErrConfigNotFound = errors.New("config directory not found")

// ErrInvalidConfig is returned when config validation fails
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Load reads config from .buildlens/config.yaml, falling back to defaults.
// It searches for the config directory starting from workDir and walking up
// the directory tree, then applies .env and environment overrides.
func Load(workDir string) (*Config, error) {
	root, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	cfg := DefaultConfig()
	if configDir, err := FindConfigDir(root); err == nil {
		root = filepath.Dir(configDir)
		cfg, err = LoadFromPath(filepath.Join(configDir, ConfigFileName))
		if err != nil {
			return nil, err
		}
	}
	cfg.Root = root

	if err := LoadDotEnv(root); err != nil {
		return nil, err
	}
	ApplyEnv(cfg, os.Getenv)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath reads config from a specific path. The file is decoded over
// the defaults, so absent keys keep their default values. A missing file
// yields the defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Root = filepath.Dir(filepath.Dir(path))

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads root/.env when present. Variables already set in the
// environment win.
func LoadDotEnv(root string) error {
	path := filepath.Join(root, ".env")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment settings on cfg. getenv is os.Getenv
// outside tests.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if dsn := strings.TrimSpace(getenv("DATABASE_URL")); dsn != "" {
		cfg.Store.DSN = dsn
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			cfg.Store.Backend = "postgres"
		}
	} else if host := strings.TrimSpace(getenv("DB_HOST")); host != "" {
		user := url.UserPassword(
			firstNonEmpty(getenv("DB_USER"), "postgres"),
			firstNonEmpty(getenv("DB_PASSWORD"), "postgres"))
		dsn := url.URL{
			Scheme: "postgres",
			User:   user,
			Host:   net.JoinHostPort(host, firstNonEmpty(getenv("DB_PORT"), "5432")),
			Path:   "/" + firstNonEmpty(getenv("DB_NAME"), "buildlens"),
		}
		cfg.Store.DSN = dsn.String()
		cfg.Store.Backend = "postgres"
	}

	if backend := strings.TrimSpace(getenv("BUILDLENS_BACKEND")); backend != "" {
		cfg.Store.Backend = strings.ToLower(backend)
	}
}

// ResolveBaseRef picks the ref to diff against: the flag, then
// GITHUB_BASE_REF, then BASE_BRANCH, then the config file.
func ResolveBaseRef(flag string, cfg *Config, getenv func(string) string) string {
	return firstNonEmpty(flag, getenv("GITHUB_BASE_REF"), getenv("BASE_BRANCH"), cfg.Diff.BaseRef, DefaultBaseRef)
}

// StorePath returns the absolute sqlite file or dolt directory.
func (c *Config) StorePath() string {
	path := c.Store.Path
	if path == "" {
		name := DefaultSQLiteFile
		if c.Store.Backend == "dolt" {
			name = DefaultDoltDir
		}
		path = filepath.Join(ConfigDirName, name)
	}
	return c.Resolve(path)
}

// Resolve makes a project-relative path absolute.
func (c *Config) Resolve(path string) string {
	if filepath.IsAbs(path) || c.Root == "" {
		return path
	}
	return filepath.Join(c.Root, path)
}

// FindConfigDir locates the .buildlens directory by walking up from startDir.
// Returns the path to the .buildlens directory if found.
func FindConfigDir(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	currentDir := absDir
	for {
		configDir := filepath.Join(currentDir, ConfigDirName)
		info, err := os.Stat(configDir)
		if err == nil && info.IsDir() {
			return configDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return "", ErrConfigNotFound
		}
		currentDir = parentDir
	}
}

// EnsureConfigDir creates the .buildlens directory if it doesn't exist.
// Returns the path to the .buildlens directory.
func EnsureConfigDir(workDir string) (string, error) {
	absDir, err := filepath.Abs(workDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	configDir := filepath.Join(absDir, ConfigDirName)

	info, err := os.Stat(configDir)
	if err == nil {
		if info.IsDir() {
			return configDir, nil
		}
		return "", fmt.Errorf("%s exists but is not a directory", configDir)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	return configDir, nil
}

// Validate checks that config values are valid.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// describe renders a field error as "section.key: problem".
func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}

	switch fe.Tag() {
	case "required", "required_if":
		return field + ": is required"
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s], got %q", field, fe.Param(), fmt.Sprint(fe.Value()))
	case "min", "max":
		return fmt.Sprintf("%s: must be %s %s", field, map[string]string{"min": "at least", "max": "at most"}[fe.Tag()], fe.Param())
	case "startswith":
		return fmt.Sprintf("%s: must start with %q", field, fe.Param())
	default:
		return fmt.Sprintf("%s: failed %s", field, fe.Tag())
	}
}

// SaveDefault writes the default configuration to .buildlens/config.yaml in workDir.
// Creates the .buildlens directory if it doesn't exist.
func SaveDefault(workDir string) (string, error) {
	configDir, err := EnsureConfigDir(workDir)
	if err != nil {
		return "", err
	}

	configPath := filepath.Join(configDir, ConfigFileName)

	if _, err := os.Stat(configPath); err == nil {
		return "", fmt.Errorf("config file already exists: %s", configPath)
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return "", fmt.Errorf("marshaling config: %w", err)
	}
	data = append([]byte(configHeader), data...)

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}

	return configPath, nil
}

const configHeader = `# buildlens configuration
#
# store.backend: sqlite (default, .buildlens/graph.db), postgres (needs dsn
#   or DATABASE_URL) or dolt (versioned, .buildlens/graph).
# select.match: exact, overlap or file.
# diff.base_ref is overridden by --base, GITHUB_BASE_REF and BASE_BRANCH.

`

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
