package interceptor

import (
	"strings"

	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
)

// MatchContext reports whether invocation is listed in allowed, verbatim or
// through an entry ending in "*" whose prefix matches. "*" alone matches
// every context.
func MatchContext(allowed []string, invocation string) bool {
	for _, c := range allowed {
		if c == invocation {
			return true
		}

		if prefix, ok := strings.CutSuffix(c, "*"); ok && strings.HasPrefix(invocation, prefix) {
			return true
		}
	}

	return false
}

// ContextAllowed applies MatchContext, except that the native context (or an
// empty one) is always allowed.
func ContextAllowed(allowed []string, invocation string) bool {
	if invocation == "" || invocation == cbroker.ContextNative {
		return true
	}

	return MatchContext(allowed, invocation)
}
