package interceptor

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"unicode"
	"unicode/utf8"

	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
	"github.com/next-trace/scg-service-broker/metadata"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	paramsType  = reflect.TypeOf(cbroker.Params(nil))
	anyType     = reflect.TypeOf((*any)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// table is the generated dispatch table of one (class, service id).
type table struct {
	class   string
	spec    *metadata.Specification
	methods map[string]int // canonical name -> method index
	aliases map[string]string
}

// operationsOf maps operation names to the method indexes of t.
func operationsOf(t reflect.Type) map[string]int {
	out := make(map[string]int)

	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if !isOperation(m.Type) {
			continue
		}

		out[operationName(m.Name)] = i
	}

	return out
}

// isOperation checks the method type, receiver included.
func isOperation(mt reflect.Type) bool {
	return mt.NumIn() == 3 && mt.NumOut() == 2 &&
		mt.In(1) == contextType && mt.In(2) == paramsType &&
		mt.Out(0) == anyType && mt.Out(1) == errorType
}

func operationName(method string) string {
	r, size := utf8.DecodeRuneInString(method)
	return string(unicode.ToLower(r)) + method[size:]
}

func buildTable(class string, spec *metadata.Specification, methods map[string]int) (*table, error) {
	t := &table{
		class:   class,
		spec:    spec,
		methods: make(map[string]int),
		aliases: make(map[string]string),
	}

	names := spec.Operations()
	sort.Strings(names)

	for _, name := range names {
		idx, ok := methods[name]
		if !ok {
			continue
		}

		t.methods[name] = idx
	}

	// canonical names first so an alias never shadows an operation
	for name := range t.methods {
		t.aliases[name] = name
	}

	for _, name := range names {
		if _, ok := t.methods[name]; !ok {
			continue
		}

		op, _ := spec.Operation(name)
		for _, alias := range op.Aliases {
			if owner, taken := t.aliases[alias]; taken && owner != name {
				return nil, &metadata.DecodeError{
					Name:     fmt.Sprintf("%s.operations.%s.aliases", class, name),
					Expected: "alias unique within the service",
					Actual:   fmt.Sprintf("%q already resolves to %s", alias, owner),
				}
			}

			t.aliases[alias] = name
		}
	}

	return t, nil
}

func (t *table) resolve(name string) (string, metadata.OperationSpec, bool) {
	canonical, ok := t.aliases[name]
	if !ok {
		return "", metadata.OperationSpec{}, false
	}

	op, ok := t.spec.Operation(canonical)
	if !ok || op.Excluded {
		return "", metadata.OperationSpec{}, false
	}

	return canonical, op, true
}

func (t *table) operations() []string {
	out := make([]string, 0, len(t.methods))
	for name := range t.methods {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}
