package metadata

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// Compiler compiles class hierarchies into Specifications and caches them by
// (class, version). A version change replaces the cached entry.
//
// Compiler is safe for concurrent use.
type Compiler struct {
	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	version string
	spec    *Specification
}

// NewCompiler returns an empty compiler.
func NewCompiler() *Compiler {
	return &Compiler{cache: make(map[string]cacheEntry)}
}

// CompileFor resolves the hierarchy of the service object v from src and
// compiles it against the operations v exposes.
func (c *Compiler) CompileFor(src Source, v any, operations []string) (*Specification, error) {
	chain, err := HierarchyOf(src, v)
	if err != nil {
		return nil, err
	}

	return c.Compile(chain, operations)
}

// Compile compiles hierarchy (base first). When operations is non-nil only
// those names are considered; otherwise every declared name is.
func (c *Compiler) Compile(hierarchy []Class, operations []string) (*Specification, error) {
	if len(hierarchy) == 0 {
		return nil, &DecodeError{Name: "hierarchy", Expected: "at least one class", Actual: "none"}
	}

	key := hierarchy[len(hierarchy)-1].Name
	version := versionOf(hierarchy)

	if key != "" {
		c.mu.RLock()
		e, ok := c.cache[key]
		c.mu.RUnlock()

		if ok && e.version == version {
			return e.spec, nil
		}
	}

	spec, err := Merge(hierarchy, operations)
	if err != nil {
		return nil, err
	}

	if key != "" {
		c.mu.Lock()
		c.cache[key] = cacheEntry{version: version, spec: spec}
		c.mu.Unlock()
	}

	return spec, nil
}

// Forget drops the cached specification of class.
func (c *Compiler) Forget(class string) {
	c.mu.Lock()
	delete(c.cache, class)
	c.mu.Unlock()
}

// versionOf mirrors the merge rule: the first level that declares a version wins.
func versionOf(hierarchy []Class) string {
	for _, cls := range hierarchy {
		if cls.Version != "" {
			return cls.Version
		}
	}

	return ""
}

// state is the accumulator threaded through Merge. Each level produces a new
// state; the previous one is never mutated.
type state struct {
	version string
	exclude string
	ops     map[string]OperationSpec
}

func (s state) next() state {
	ops := make(map[string]OperationSpec, len(s.ops))
	for k, v := range s.ops {
		ops[k] = v
	}

	return state{version: s.version, exclude: s.exclude, ops: ops}
}

// Merge compiles hierarchy (base first) without caching.
func Merge(hierarchy []Class, operations []string) (*Specification, error) {
	acc := state{ops: map[string]OperationSpec{}}

	for _, cls := range hierarchy {
		var err error

		acc, err = mergeLevel(acc, cls, operations)
		if err != nil {
			return nil, err
		}
	}

	return &Specification{version: acc.version, exclude: acc.exclude, operations: acc.ops}, nil
}

func mergeLevel(prev state, cls Class, operations []string) (state, error) {
	st := prev.next()

	if st.version == "" {
		st.version = cls.Version
	}

	// The class pattern replaces the inherited one and is only active here.
	st.exclude = cls.Exclude

	var pattern *regexp.Regexp

	if cls.Exclude != "" {
		re, err := regexp.Compile(cls.Exclude)
		if err != nil {
			return prev, &DecodeError{Name: cls.Name + ".exclude", Expected: "regular expression", Actual: fmt.Sprintf("%q (%v)", cls.Exclude, err)}
		}

		pattern = re
	}

	for _, name := range levelOperations(prev, cls, operations) {
		decl, declared := cls.Operations[name]

		switch {
		case declared && decl.Exclude != nil:
			if *decl.Exclude {
				st.ops[name] = OperationSpec{Excluded: true}
				continue
			}
		case declared && decl.Inherit:
			if _, ok := st.ops[name]; !ok {
				st.ops[name] = defaultSpec(name)
			}

			continue
		case pattern != nil && pattern.MatchString(name):
			st.ops[name] = OperationSpec{Excluded: true}
			continue
		}

		if !declared {
			if _, ok := st.ops[name]; !ok {
				st.ops[name] = defaultSpec(name)
			}

			continue
		}

		if decl.Inherit {
			if _, ok := st.ops[name]; !ok {
				st.ops[name] = defaultSpec(name)
			}

			continue
		}

		op, err := collect(cls.Name, name, decl)
		if err != nil {
			return prev, err
		}

		st.ops[name] = op
	}

	return st, nil
}

// levelOperations lists the names considered at one level, sorted.
func levelOperations(prev state, cls Class, operations []string) []string {
	seen := map[string]struct{}{}

	if operations != nil {
		for _, n := range operations {
			seen[n] = struct{}{}
		}
	} else {
		for n := range prev.ops {
			seen[n] = struct{}{}
		}

		for n := range cls.Operations {
			seen[n] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}

	sort.Strings(out)

	return out
}

func defaultSpec(name string) OperationSpec {
	return OperationSpec{Aliases: []string{name}, Contexts: []string{"*"}}
}

func collect(class, name string, decl Operation) (OperationSpec, error) {
	op := OperationSpec{}

	for i, e := range decl.Events {
		if e.Type != EventPre && e.Type != EventPost {
			return op, &DecodeError{
				Name:     fmt.Sprintf("%s.operations.%s.events[%d].type", class, name, i),
				Expected: "pre or post",
				Actual:   fmt.Sprintf("%q", e.Type),
			}
		}

		d := EventDescriptor{Type: e.Type, Name: e.Name, Args: cloneArgs(e.Args)}
		if d.Name == "" {
			d.Name = e.Type + "." + ServicePlaceholder + "." + name
		}

		op.Events = append(op.Events, d)
	}

	if len(decl.Contexts) == 0 {
		op.Contexts = []string{"*"}
	} else {
		op.Contexts = dedupe(decl.Contexts)
	}

	op.Aliases = dedupe(append([]string{name}, decl.Aliases...))

	return op, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))

	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}

		seen[s] = struct{}{}
		out = append(out, s)
	}

	return out
}
