package interceptor

import (
	"context"

	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
)

// stackKey scopes a call stack to one proxy.
type stackKey struct{ p *Proxy }

// callStack holds the in-flight commands of one proxy, innermost last.
type callStack []*cbroker.Command

func push(ctx context.Context, p *Proxy, cmd *cbroker.Command) context.Context {
	prev, _ := ctx.Value(stackKey{p}).(callStack)

	next := make(callStack, len(prev), len(prev)+1)
	copy(next, prev)
	next = append(next, cmd)

	return cbroker.WithCommand(context.WithValue(ctx, stackKey{p}, next), cmd)
}

func top(ctx context.Context, p *Proxy) *cbroker.Command {
	s, _ := ctx.Value(stackKey{p}).(callStack)
	if len(s) == 0 {
		return nil
	}

	return s[len(s)-1]
}

// Depth returns how many commands p is currently handling in ctx.
func Depth(ctx context.Context, p *Proxy) int {
	s, _ := ctx.Value(stackKey{p}).(callStack)
	return len(s)
}
