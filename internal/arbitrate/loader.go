package arbitrate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Factory builds a fresh Strategy instance of a known type. Built-in
// strategies register their factory under their own type name; a plugin
// manifest on disk selects one of these factories by name rather than
// dlopen-ing arbitrary code, which keeps the loader pure Go and crash-safe.
type Factory func() Strategy

// manifest is the on-disk shape of a strategy_*.yaml file: it selects a
// known factory and may override the instance's name and static config.
type manifest struct {
	Type   string                 `yaml:"type"`
	Name   string                 `yaml:"name"`
	Config map[string]interface{} `yaml:"config"`
}

// Loader is the C7 plugin loader: it holds the live set of strategies,
// discoverable from a directory of manifests plus any programmatically
// registered built-ins, and supports atomic hot-reload.
type Loader struct {
	dir       string
	fileGlob  string
	factories map[string]Factory
	live      atomic.Pointer[map[string]Strategy]
}

// NewLoader builds a Loader. factories maps a manifest's `type` field to a
// constructor; builtins are registered immediately so Get works even
// before the first Reload (e.g. when no plugin directory is configured).
func NewLoader(dir, fileGlob string, factories map[string]Factory, builtins []Strategy) *Loader {
	if fileGlob == "" {
		fileGlob = "strategy_*.yaml"
	}
	l := &Loader{dir: dir, fileGlob: fileGlob, factories: factories}
	initial := make(map[string]Strategy, len(builtins))
	for _, s := range builtins {
		initial[s.StrategyName()] = s
	}
	l.live.Store(&initial)
	return l
}

// Get resolves a strategy by name from the current live set.
func (l *Loader) Get(name string) (Strategy, bool) {
	m := *l.live.Load()
	s, ok := m[name]
	return s, ok
}

// All returns every currently registered strategy, sorted by name.
func (l *Loader) All() []Strategy {
	m := *l.live.Load()
	out := make([]Strategy, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyName() < out[j].StrategyName() })
	return out
}

// Register adds or replaces a single strategy in the live set via a
// copy-on-write swap, for programmatic registration outside of manifests.
func (l *Loader) Register(s Strategy) {
	old := *l.live.Load()
	next := make(map[string]Strategy, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[s.StrategyName()] = s
	l.live.Store(&next)
}

// Reload rescans the plugin directory (if configured), instantiating one
// strategy per manifest that parses and whose type resolves to a known
// factory. On name collision, first-discovered wins (directory listing
// order) and later duplicates are skipped; a failing manifest is skipped
// rather than aborting the whole reload, so one bad file can't take down
// an otherwise-healthy strategy set. Builtins already registered survive
// unless a manifest explicitly overrides the same name.
func (l *Loader) Reload() ([]string, error) {
	if l.dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("arbitrate: reading plugin directory %s: %w", l.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	old := *l.live.Load()
	next := make(map[string]Strategy, len(old))
	for k, v := range old {
		next[k] = v
	}

	var loaded []string
	seen := make(map[string]bool)
	for _, name := range names {
		matched, err := filepath.Match(l.fileGlob, name)
		if err != nil || !matched {
			continue
		}
		path := filepath.Join(l.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var m manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			continue
		}
		factory, ok := l.factories[m.Type]
		if !ok {
			continue
		}
		strategyName := m.Name
		if strategyName == "" {
			strategyName = m.Type
		}
		if seen[strategyName] {
			continue
		}
		seen[strategyName] = true
		strat := factory()
		next[strategyName] = namedStrategy{Strategy: strat, name: strategyName}
		loaded = append(loaded, strategyName)
	}

	l.live.Store(&next)
	return loaded, nil
}

// namedStrategy overrides StrategyName so a manifest's `name:` override
// takes effect without each built-in needing to know about renaming.
type namedStrategy struct {
	Strategy
	name string
}

func (n namedStrategy) StrategyName() string { return n.name }
