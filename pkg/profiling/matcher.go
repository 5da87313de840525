package profiling

import (
	"fmt"
	"regexp"

	"spanwatch/pkg/config"
)

// Matcher decides whether a unit of work gets profiled.
type Matcher interface {
	Matches(meta Meta) bool
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(meta Meta) bool

func (f MatcherFunc) Matches(meta Meta) bool { return f(meta) }

// RouteMatcher accepts units whose path matches any of its patterns.
type RouteMatcher struct {
	patterns []*regexp.Regexp
}

func NewRouteMatcher(patterns ...string) (*RouteMatcher, error) {
	m := &RouteMatcher{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("route pattern %q: %w", p, err)
		}
		m.patterns = append(m.patterns, re)
	}
	return m, nil
}

func (m *RouteMatcher) Matches(meta Meta) bool {
	for _, re := range m.patterns {
		if re.MatchString(meta.Path) {
			return true
		}
	}
	return false
}

// IPMatcher accepts units coming from one of its addresses.
type IPMatcher struct {
	ips map[string]struct{}
}

func NewIPMatcher(ips ...string) *IPMatcher {
	m := &IPMatcher{ips: make(map[string]struct{}, len(ips))}
	for _, ip := range ips {
		m.ips[ip] = struct{}{}
	}
	return m
}

func (m *IPMatcher) Matches(meta Meta) bool {
	_, ok := m.ips[meta.IP]
	return ok
}

// matchAny accepts everything when matchers is empty.
func matchAny(matchers []Matcher, meta Meta) bool {
	if len(matchers) == 0 {
		return true
	}
	for _, m := range matchers {
		if m.Matches(meta) {
			return true
		}
	}
	return false
}

// MatchersFromConfig builds the route and ip matchers configured in cfg.
// It returns none when neither list is set.
func MatchersFromConfig(cfg config.ProfilerConfig) ([]Matcher, error) {
	var out []Matcher
	if len(cfg.Routes) > 0 {
		rm, err := NewRouteMatcher(cfg.Routes...)
		if err != nil {
			return nil, err
		}
		out = append(out, rm)
	}
	if len(cfg.IPs) > 0 {
		out = append(out, NewIPMatcher(cfg.IPs...))
	}
	return out, nil
}
