/*
Package dispatcher invokes the listeners attached to a service name in
priority order.

A listener may return a skippable error (see errors.Skip) to let the next
listener try; the skip surfaces only when no listener produced a response.
Any other error aborts the dispatch. A listener stopping the command's
propagation, or a response satisfying the caller's stop predicate, halts the
dispatch and marks the responses stopped.
*/
package dispatcher
