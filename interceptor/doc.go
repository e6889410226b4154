/*
Package interceptor turns plain service objects into command listeners.

Every exported method with the signature

	func(ctx context.Context, params broker.Params) (any, error)

is an operation, named after the method with its first letter lower-cased.
The Generator compiles the object's metadata into a dispatch table mapping
canonical names and aliases to methods, memoised per (class, service id), and
binds it to the object in a Proxy. The Proxy enforces the operation's
invocation contexts and triggers its pre/post events around the call.
*/
package interceptor
