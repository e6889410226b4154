package metadata

import "reflect"

// Event types.
const (
	EventPre  = "pre"
	EventPost = "post"
)

// ServicePlaceholder is substituted with the service name when an event fires.
const ServicePlaceholder = "<service>"

// Class is the declarative metadata of one level of a service hierarchy.
type Class struct {
	Name    string
	Extends string
	Version string
	// Exclude is a regular expression; matching operations are hidden at this
	// class level only.
	Exclude    string
	Operations map[string]Operation
}

// Operation is the metadata declared for one operation at one class level.
type Operation struct {
	// Exclude, when set, wins over the class pattern: true hides the
	// operation, false keeps it even if the pattern matches.
	Exclude *bool
	// Inherit keeps whatever the parent classes compiled for the operation.
	Inherit  bool
	Events   []Event
	Contexts []string
	Aliases  []string
}

// Event declares one trigger. An empty Name defaults to
// "<type>.<service>.<operation>"; nil Args forwards every param.
type Event struct {
	Type string
	Name string
	Args []string
}

// Annotated is implemented by service objects that carry their own metadata.
type Annotated interface {
	ServiceClass() Class
}

// Named is implemented by service objects that choose their class identity.
type Named interface {
	ClassName() string
}

// Bool returns a pointer to b, for Operation.Exclude literals.
func Bool(b bool) *bool { return &b }

// ClassOf returns the class identity of v.
func ClassOf(v any) string {
	if n, ok := v.(Named); ok {
		return n.ClassName()
	}

	t := reflect.TypeOf(v)
	if t == nil {
		return ""
	}

	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t.PkgPath() == "" {
		return t.String()
	}

	return t.PkgPath() + "." + t.Name()
}
