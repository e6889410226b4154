package servicebroker

import (
	"context"
	"fmt"

	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
	berr "github.com/next-trace/scg-service-broker/contract/errors"
)

// Conventional identity services.
const (
	IdentityService   = "Identity"
	IdentityOperation = "get"

	UserService   = "User"
	UserOperation = "getIdentity"
	UsernameParam = cbroker.IdentityUsername
)

// IdentityResolver re-resolves the identity of a username.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, username string) (cbroker.Identity, error)
}

// IdentityResolverFunc adapts a function to IdentityResolver.
type IdentityResolverFunc func(ctx context.Context, username string) (cbroker.Identity, error)

// ResolveIdentity calls f.
func (f IdentityResolverFunc) ResolveIdentity(ctx context.Context, username string) (cbroker.Identity, error) {
	return f(ctx, username)
}

// ServiceIdentityResolver resolves identities by dispatching a command,
// User.getIdentity(username) unless configured otherwise.
type ServiceIdentityResolver struct {
	Broker    cbroker.Broker
	Service   string
	Operation string
	Param     string
}

// ResolveIdentity dispatches the lookup in the native context and returns the
// first identity produced.
func (r ServiceIdentityResolver) ResolveIdentity(ctx context.Context, username string) (cbroker.Identity, error) {
	service, op, param := r.Service, r.Operation, r.Param
	if service == "" {
		service = UserService
	}

	if op == "" {
		op = UserOperation
	}

	if param == "" {
		param = UsernameParam
	}

	res, err := r.Broker.ExecuteInContext(ctx, cbroker.ContextNative, service, op, cbroker.NewParams(param, username))
	if err != nil {
		return nil, fmt.Errorf("resolve identity %s: %w", username, err)
	}

	for _, v := range res.All() {
		if id, ok := asIdentity(v); ok {
			return id, nil
		}
	}

	return nil, berr.Configuration("No identity found for user %username%", map[string]any{"username": username})
}

func asIdentity(v any) (cbroker.Identity, bool) {
	switch id := v.(type) {
	case cbroker.Identity:
		return id, id != nil
	case map[string]any:
		return cbroker.Identity(id), id != nil
	default:
		return nil, false
	}
}

type resolvingKey struct{}

// DefaultIdentity returns the broker's default identity, resolved once from
// the Identity service. It returns nil when that service is not registered.
// A lookup that yields no identity is remembered too; only errors are
// retried. Commands dispatched while the identity is being resolved get none.
func (b *Broker) DefaultIdentity(ctx context.Context) (cbroker.Identity, error) {
	if ctx.Value(resolvingKey{}) != nil {
		return nil, nil
	}

	b.idMu.Lock()
	defer b.idMu.Unlock()

	if b.resolved {
		return b.identity.Clone(), nil
	}

	if !b.registry.Exists(IdentityService) {
		return nil, nil
	}

	cmd := cbroker.NewCommand(IdentityService, IdentityOperation, nil)
	cmd.Context = cbroker.ContextNative

	res, err := b.Dispatch(context.WithValue(ctx, resolvingKey{}, true), cmd, func(v any) bool {
		_, ok := asIdentity(v)
		return ok
	})
	if err != nil {
		return nil, fmt.Errorf("default identity: %w", err)
	}

	b.resolved = true

	for _, v := range res.All() {
		if id, ok := asIdentity(v); ok {
			b.identity = id.Clone()
			return id.Clone(), nil
		}
	}

	return nil, nil
}
