package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Param is a single named argument.
type Param struct {
	Name  string
	Value any
}

// Params is an ordered set of named arguments. Names are unique; Set on an
// existing name keeps its original position.
type Params []Param

// NewParams builds Params from alternating name/value pairs.
// A trailing name without a value is set to nil.
func NewParams(kv ...any) Params {
	p := make(Params, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		name := fmt.Sprint(kv[i])

		var v any
		if i+1 < len(kv) {
			v = kv[i+1]
		}

		p.Set(name, v)
	}

	return p
}

// ParamsFromMap builds Params from m, ordered by name.
func ParamsFromMap(m map[string]any) Params {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	p := make(Params, 0, len(keys))
	for _, k := range keys {
		p = append(p, Param{Name: k, Value: m[k]})
	}

	return p
}

// Get returns the value stored under name.
func (p Params) Get(name string) (any, bool) {
	for _, kv := range p {
		if kv.Name == name {
			return kv.Value, true
		}
	}

	return nil, false
}

// String returns the value under name formatted as a string, or "".
func (p Params) String(name string) string {
	v, ok := p.Get(name)
	if !ok || v == nil {
		return ""
	}

	if s, ok := v.(string); ok {
		return s
	}

	return fmt.Sprint(v)
}

// Has reports whether name is present.
func (p Params) Has(name string) bool {
	_, ok := p.Get(name)
	return ok
}

// Set stores v under name.
func (p *Params) Set(name string, v any) {
	for i := range *p {
		if (*p)[i].Name == name {
			(*p)[i].Value = v
			return
		}
	}

	*p = append(*p, Param{Name: name, Value: v})
}

// Names returns the parameter names in order.
func (p Params) Names() []string {
	out := make([]string, len(p))
	for i, kv := range p {
		out[i] = kv.Name
	}

	return out
}

// Map returns an unordered copy.
func (p Params) Map() map[string]any {
	m := make(map[string]any, len(p))
	for _, kv := range p {
		m[kv.Name] = kv.Value
	}

	return m
}

// Filter returns only the named params, in their original order.
// A nil names slice keeps everything.
func (p Params) Filter(names []string) Params {
	if names == nil {
		return p.Clone()
	}

	keep := make(map[string]struct{}, len(names))
	for _, n := range names {
		keep[n] = struct{}{}
	}

	out := make(Params, 0, len(names))
	for _, kv := range p {
		if _, ok := keep[kv.Name]; ok {
			out = append(out, kv)
		}
	}

	return out
}

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}

	return append(Params(nil), p...)
}

// MarshalJSON encodes params as a JSON object preserving order.
func (p Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	for i, kv := range p {
		if i > 0 {
			buf.WriteByte(',')
		}

		k, err := json.Marshal(kv.Name)
		if err != nil {
			return nil, err
		}

		v, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", kv.Name, err)
		}

		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping its key order.
func (p *Params) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}

	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("params: expected object, got %v", tok)
	}

	out := Params{}

	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return err
		}

		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("params: expected key, got %v", tok)
		}

		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("param %s: %w", name, err)
		}

		out.Set(name, v)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	*p = out

	return nil
}
