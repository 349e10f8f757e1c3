package filter

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/dhcgn/mhtml/model"
)

// Options captures the filtering configuration.
type Options struct {
	IncludeType     []string
	IncludeLocation []string
	ExcludeType     []string
	ExcludeLocation []string
}

// Filter holds compiled regex patterns for filtering parts.
type Filter struct {
	includeMode     bool
	excludeMode     bool
	includeType     []*regexp.Regexp
	includeLocation []*regexp.Regexp
	excludeType     []*regexp.Regexp
	excludeLocation []*regexp.Regexp

	mu   sync.Mutex
	hits map[*regexp.Regexp]int
}

// Stats reports how often each pattern matched.
type Stats struct {
	IncludeTypePatterns     []string
	IncludeTypeHits         map[string]int
	IncludeLocationPatterns []string
	IncludeLocationHits     map[string]int
	ExcludeTypePatterns     []string
	ExcludeTypeHits         map[string]int
	ExcludeLocationPatterns []string
	ExcludeLocationHits     map[string]int
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeType, err := compilePatterns(opts.IncludeType)
	if err != nil {
		return nil, fmt.Errorf("compile include-type pattern: %w", err)
	}
	includeLocation, err := compilePatterns(opts.IncludeLocation)
	if err != nil {
		return nil, fmt.Errorf("compile include-location pattern: %w", err)
	}
	excludeType, err := compilePatterns(opts.ExcludeType)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-type pattern: %w", err)
	}
	excludeLocation, err := compilePatterns(opts.ExcludeLocation)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-location pattern: %w", err)
	}

	includeActive := len(includeType) > 0 || len(includeLocation) > 0
	excludeActive := len(excludeType) > 0 || len(excludeLocation) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{
		includeMode:     includeActive,
		excludeMode:     excludeActive,
		includeType:     includeType,
		includeLocation: includeLocation,
		excludeType:     excludeType,
		excludeLocation: excludeLocation,
		hits:            make(map[*regexp.Regexp]int),
	}, nil
}

// Allows returns true if the part passes the filter criteria. A nil filter
// allows everything.
func (f *Filter) Allows(p model.Part) bool {
	if f == nil {
		return true
	}

	if f.includeMode {
		typeHit := f.matchAny(f.includeType, p.ContentType)
		locationHit := f.matchAny(f.includeLocation, p.Location)
		return typeHit || locationHit
	}

	if f.excludeMode {
		typeHit := f.matchAny(f.excludeType, p.ContentType)
		locationHit := f.matchAny(f.excludeLocation, p.Location)
		if typeHit || locationHit {
			return false
		}
	}

	return true
}

// GetStats returns the per-pattern hit counts collected by Allows.
func (f *Filter) GetStats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := Stats{}
	s.IncludeTypePatterns, s.IncludeTypeHits = f.statsFor(f.includeType)
	s.IncludeLocationPatterns, s.IncludeLocationHits = f.statsFor(f.includeLocation)
	s.ExcludeTypePatterns, s.ExcludeTypeHits = f.statsFor(f.excludeType)
	s.ExcludeLocationPatterns, s.ExcludeLocationHits = f.statsFor(f.excludeLocation)
	return s
}

func (f *Filter) statsFor(patterns []*regexp.Regexp) ([]string, map[string]int) {
	names := make([]string, 0, len(patterns))
	hits := make(map[string]int, len(patterns))
	for _, re := range patterns {
		names = append(names, re.String())
		hits[re.String()] += f.hits[re]
	}
	return names, hits
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// matchAny evaluates every pattern so each one gets its hit counted.
func (f *Filter) matchAny(patterns []*regexp.Regexp, text string) bool {
	matched := false
	for _, re := range patterns {
		if re.MatchString(text) {
			f.mu.Lock()
			f.hits[re]++
			f.mu.Unlock()
			matched = true
		}
	}
	return matched
}
