package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gobwas/glob"

	"github.com/samsaffron/toolstream/internal/billing"
	"github.com/samsaffron/toolstream/internal/config"
	"github.com/samsaffron/toolstream/internal/search"
	"github.com/samsaffron/toolstream/internal/telemetry"
)

const (
	defaultShellTimeout = 30 * time.Second
	maxShellTimeout     = 300 * time.Second
)

// Options configures the built-in handlers.
type Options struct {
	// Root is the project directory. File tools cannot leave it.
	Root string

	ShellAllow   []string // glob patterns; empty allows nothing
	ShellTimeout time.Duration

	Limits OutputLimits

	Searcher         search.Searcher
	SearchMaxResults int

	Billing billing.Consumer
	Margin  float64

	Logger telemetry.Logger
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config, logger telemetry.Logger) (Options, error) {
	root := cfg.Tools.Root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Options{}, fmt.Errorf("cannot get working directory: %w", err)
		}
		root = wd
	}
	return Options{
		Root:             root,
		ShellAllow:       cfg.Tools.Shell.Allow,
		ShellTimeout:     time.Duration(cfg.Tools.Shell.Timeout) * time.Second,
		Limits:           DefaultOutputLimits(),
		Searcher:         search.NewDuckDuckGo(cfg.Tools.Search.BaseURL, nil),
		SearchMaxResults: cfg.Tools.Search.MaxResults,
		Billing:          billing.NoopConsumer{},
		Margin:           cfg.Billing.Margin,
		Logger:           logger,
	}, nil
}

func (o *Options) normalize() error {
	if o.Root == "" {
		return fmt.Errorf("tools: project root is required")
	}
	abs, err := filepath.Abs(o.Root)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	o.Root = abs
	if o.ShellTimeout <= 0 {
		o.ShellTimeout = defaultShellTimeout
	}
	if o.Limits == (OutputLimits{}) {
		o.Limits = DefaultOutputLimits()
	}
	if o.Searcher == nil {
		o.Searcher = search.NewDuckDuckGo("", nil)
	}
	if o.SearchMaxResults <= 0 {
		o.SearchMaxResults = 10
	}
	if o.Billing == nil {
		o.Billing = billing.NoopConsumer{}
	}
	if o.Logger == nil {
		o.Logger = telemetry.NewNoopLogger()
	}
	return nil
}

// OutputLimits defines limits for tool output.
type OutputLimits struct {
	MaxLines   int   // Max lines per file for read_files (default 2000)
	MaxBytes   int64 // Max bytes per tool output (default 50KB)
	MaxResults int   // Max results for code_search/find_files (default 100)
	MaxFiles   int   // Max files per read_files call (default 20)
}

// DefaultOutputLimits returns the default output limits.
func DefaultOutputLimits() OutputLimits {
	return OutputLimits{
		MaxLines:   2000,
		MaxBytes:   50 * 1024, // 50KB
		MaxResults: 100,
		MaxFiles:   20,
	}
}

// shellAllowlist matches commands against the configured glob patterns.
type shellAllowlist struct {
	patterns []string
	globs    []glob.Glob
}

func newShellAllowlist(patterns []string) (*shellAllowlist, error) {
	a := &shellAllowlist{patterns: patterns}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid shell pattern %q: %w", p, err)
		}
		a.globs = append(a.globs, g)
	}
	return a, nil
}

// Allows reports whether command matches one of the patterns.
func (a *shellAllowlist) Allows(command string) bool {
	for _, g := range a.globs {
		if g.Match(command) {
			return true
		}
	}
	return false
}
