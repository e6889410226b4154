/*
Package metadata compiles declarative service metadata into a Specification.

A service class declares, per operation, its aliases, the invocation contexts it
may be called in, the events it triggers and whether it is exposed at all.
Classes form a hierarchy through Extends; the Compiler walks it base to derived
and produces one immutable Specification per (class, version).

Declarations come from a Source: in-code (MapSource, or objects implementing
Annotated) or YAML files (LoadYAML).
*/
package metadata
