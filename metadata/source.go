package metadata

// Source resolves class declarations by name.
type Source interface {
	Lookup(name string) (Class, bool)
}

// MapSource is an in-memory Source keyed by class name.
type MapSource map[string]Class

// Lookup implements Source.
func (m MapSource) Lookup(name string) (Class, bool) {
	c, ok := m[name]
	return c, ok
}

// Add stores c under its name.
func (m MapSource) Add(c Class) { m[c.Name] = c }

// Hierarchy resolves name and its Extends chain, base first.
func Hierarchy(src Source, name string) ([]Class, error) {
	if src == nil {
		return nil, &DecodeError{Name: name, Expected: "known class", Actual: "no metadata source"}
	}

	c, ok := src.Lookup(name)
	if !ok {
		return nil, &DecodeError{Name: name, Expected: "known class", Actual: "undefined class"}
	}

	if c.Name == "" {
		c.Name = name
	}

	return withParents(src, c)
}

// HierarchyOf resolves the hierarchy of a service object. Objects implementing
// Annotated supply the most derived level themselves; otherwise the object's
// class identity is looked up in src. Without any declaration the object gets
// a single empty level, which compiles to defaults.
func HierarchyOf(src Source, v any) ([]Class, error) {
	if a, ok := v.(Annotated); ok {
		c := a.ServiceClass()
		if c.Name == "" {
			c.Name = ClassOf(v)
		}

		return withParents(src, c)
	}

	name := ClassOf(v)
	if src != nil {
		if _, ok := src.Lookup(name); ok {
			return Hierarchy(src, name)
		}
	}

	return []Class{{Name: name}}, nil
}

func withParents(src Source, c Class) ([]Class, error) {
	chain := []Class{c}
	seen := map[string]bool{c.Name: true}

	for parent := c.Extends; parent != ""; {
		if seen[parent] {
			return nil, &DecodeError{Name: c.Name + ".extends", Expected: "acyclic hierarchy", Actual: "cycle through " + parent}
		}

		if src == nil {
			return nil, &DecodeError{Name: c.Name + ".extends", Expected: "known class", Actual: parent}
		}

		p, ok := src.Lookup(parent)
		if !ok {
			return nil, &DecodeError{Name: c.Name + ".extends", Expected: "known class", Actual: parent}
		}

		if p.Name == "" {
			p.Name = parent
		}

		seen[parent] = true
		chain = append(chain, p)
		parent = p.Extends
	}

	// base first
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	return chain, nil
}
