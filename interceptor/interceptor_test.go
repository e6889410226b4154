package interceptor_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
	berr "github.com/next-trace/scg-service-broker/contract/errors"
	"github.com/next-trace/scg-service-broker/events"
	"github.com/next-trace/scg-service-broker/interceptor"
	"github.com/next-trace/scg-service-broker/metadata"
)

type users struct {
	proxy *interceptor.Proxy
	calls []string
}

func (u *users) ServiceClass() metadata.Class {
	return metadata.Class{
		Exclude: "^internal",
		Operations: map[string]metadata.Operation{
			"find": {
				Aliases:  []string{"search"},
				Contexts: []string{"http*", "cli"},
				Events: []metadata.Event{
					{Type: metadata.EventPre, Args: []string{"id"}},
					{Type: metadata.EventPost},
				},
			},
			"update": {
				Events: []metadata.Event{{Type: metadata.EventPre, Name: "audit.<service>.update"}},
			},
			"fail": {
				Events: []metadata.Event{{Type: metadata.EventPost}},
			},
		},
	}
}

func (u *users) SetProxy(p *interceptor.Proxy) { u.proxy = p }

func (u *users) Find(_ context.Context, p cbroker.Params) (any, error) {
	u.calls = append(u.calls, "find")
	return "user:" + p.String("id"), nil
}

func (u *users) Update(ctx context.Context, p cbroker.Params) (any, error) {
	u.calls = append(u.calls, "update")
	return u.proxy.Invoke(ctx, "find", p)
}

func (u *users) Fail(context.Context, cbroker.Params) (any, error) {
	return nil, errors.New("fail")
}

func (u *users) InternalSync(context.Context, cbroker.Params) (any, error) { return nil, nil }

// Not an operation: wrong signature.
func (u *users) Helper(n int) int { return n }

type recorded struct {
	name    string
	params  cbroker.Params
	command *cbroker.Command
}

func newHarness(t *testing.T) (*interceptor.Generator, *events.Manager, *[]recorded) {
	t.Helper()

	m := events.NewManager(nil)

	var seen []recorded

	m.AttachFunc(events.Wildcard, func(_ context.Context, e *events.Event) (any, error) {
		seen = append(seen, recorded{name: e.Name, params: e.Params, command: e.Command})
		return nil, nil
	}, 0)

	return interceptor.NewGenerator(nil, nil, m, nil), m, &seen
}

func TestProxy_Operations(t *testing.T) {
	g, _, _ := newHarness(t)

	p, err := g.Proxy("users", "Users", &users{})
	require.NoError(t, err)

	assert.Equal(t, []string{"fail", "find", "update"}, p.Operations())
}

func TestProxy_HandleByAliasEmitsPreAndPost(t *testing.T) {
	g, _, seen := newHarness(t)
	svc := &users{}

	p, err := g.Proxy("users", "Users", svc)
	require.NoError(t, err)

	cmd := cbroker.NewCommand("Users", "search", cbroker.NewParams("id", "42", "verbose", true))
	cmd.Context = cbroker.ContextHTTPGet

	res, err := p.Handle(t.Context(), cmd)
	require.NoError(t, err)
	assert.Equal(t, "user:42", res)

	require.Len(t, *seen, 2)

	pre, post := (*seen)[0], (*seen)[1]
	assert.Equal(t, "pre.users.find", pre.name)
	assert.Equal(t, []string{"id"}, pre.params.Names())
	assert.Same(t, cmd, pre.command)

	assert.Equal(t, "post.users.find", post.name)
	assert.Equal(t, []string{"id", "verbose", interceptor.ResponseKey}, post.params.Names())

	resp, _ := post.params.Get(interceptor.ResponseKey)
	assert.Equal(t, "user:42", resp)
}

func TestProxy_ContextRules(t *testing.T) {
	g, _, _ := newHarness(t)

	p, err := g.Proxy("users", "Users", &users{})
	require.NoError(t, err)

	for _, ctxName := range []string{cbroker.ContextNative, "", cbroker.ContextHTTPPost, cbroker.ContextCLI} {
		cmd := cbroker.NewCommand("Users", "find", nil)
		cmd.Context = ctxName

		_, err := p.Handle(t.Context(), cmd)
		require.NoError(t, err, "context %q", ctxName)
	}

	cmd := cbroker.NewCommand("Users", "find", nil)
	cmd.Context = "soap"

	_, err = p.Handle(t.Context(), cmd)
	require.ErrorIs(t, err, berr.ErrUnsupportedContext)
}

func TestProxy_UnknownAndExcludedOperations(t *testing.T) {
	g, _, _ := newHarness(t)

	p, err := g.Proxy("users", "Users", &users{})
	require.NoError(t, err)

	for _, op := range []string{"missing", "internalSync", "helper"} {
		_, err := p.Handle(t.Context(), cbroker.NewCommand("Users", op, nil))
		require.ErrorIs(t, err, berr.ErrOperationNotFound, op)
	}
}

func TestProxy_NestedInvokeAttributesToOuterCommand(t *testing.T) {
	g, _, seen := newHarness(t)
	svc := &users{}

	p, err := g.Proxy("users", "Users", svc)
	require.NoError(t, err)
	require.Same(t, p, svc.proxy)

	cmd := cbroker.NewCommand("Users", "update", cbroker.NewParams("id", "7"))

	res, err := p.Handle(t.Context(), cmd)
	require.NoError(t, err)
	assert.Equal(t, "user:7", res)
	assert.Equal(t, []string{"update", "find"}, svc.calls)

	require.Len(t, *seen, 3)
	assert.Equal(t, "audit.users.update", (*seen)[0].name)
	assert.Equal(t, "pre.users.find", (*seen)[1].name)
	assert.Equal(t, "post.users.find", (*seen)[2].name)

	for _, r := range *seen {
		assert.Same(t, cmd, r.command)
	}
}

func TestProxy_InvokeOutsideCommand(t *testing.T) {
	g, _, seen := newHarness(t)

	p, err := g.Proxy("users", "Users", &users{})
	require.NoError(t, err)

	res, err := p.Invoke(t.Context(), "search", cbroker.NewParams("id", "1"))
	require.NoError(t, err)
	assert.Equal(t, "user:1", res)

	require.NotEmpty(t, *seen)
	require.NotNil(t, (*seen)[0].command)
	assert.Equal(t, "find", (*seen)[0].command.Operation)
	assert.Equal(t, cbroker.ContextNative, (*seen)[0].command.Context)
}

type tracker struct{ got []*cbroker.Command }

func (k *tracker) Track(ctx context.Context, _ cbroker.Params) (any, error) {
	k.got = append(k.got, cbroker.CommandFromContext(ctx))
	return nil, nil
}

func TestProxy_OperationSeesItsCommand(t *testing.T) {
	g, _, _ := newHarness(t)
	svc := &tracker{}

	p, err := g.Proxy("tracker", "Tracker", svc)
	require.NoError(t, err)

	cmd := cbroker.NewCommand("Tracker", "track", nil)
	cmd.Identity = cbroker.Identity{"username": "ann"}

	_, err = p.Handle(t.Context(), cmd)
	require.NoError(t, err)

	_, err = p.Invoke(t.Context(), "track", nil)
	require.NoError(t, err)

	require.Len(t, svc.got, 2)
	assert.Same(t, cmd, svc.got[0])
	assert.Equal(t, "ann", svc.got[0].Identity.Username())
	require.NotNil(t, svc.got[1])
	assert.Equal(t, cbroker.ContextNative, svc.got[1].Context)
	assert.Nil(t, cbroker.CommandFromContext(t.Context()))
}

func TestProxy_PreListenerErrorAbortsCall(t *testing.T) {
	g, m, _ := newHarness(t)
	svc := &users{}
	boom := errors.New("denied")

	m.AttachFunc("pre.users.find", func(context.Context, *events.Event) (any, error) { return nil, boom }, 10)

	p, err := g.Proxy("users", "Users", svc)
	require.NoError(t, err)

	_, err = p.Handle(t.Context(), cbroker.NewCommand("Users", "find", nil))
	require.ErrorIs(t, err, boom)
	assert.Empty(t, svc.calls)
}

func TestProxy_OperationErrorSkipsPostEvents(t *testing.T) {
	g, _, seen := newHarness(t)

	p, err := g.Proxy("users", "Users", &users{})
	require.NoError(t, err)

	_, err = p.Handle(t.Context(), cbroker.NewCommand("Users", "fail", nil))
	require.EqualError(t, err, "fail")
	assert.Empty(t, *seen)
}

func TestGenerator_GeneratesOncePerClassAndServiceID(t *testing.T) {
	g, _, _ := newHarness(t)

	var wg sync.WaitGroup

	for range 32 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := g.Proxy("users", "Users", &users{})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()
	assert.EqualValues(t, 1, g.Generations())

	_, err := g.Proxy("admins", "Admins", &users{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, g.Generations())
}

type clashing struct{}

func (clashing) ServiceClass() metadata.Class {
	return metadata.Class{
		Operations: map[string]metadata.Operation{
			"find": {Aliases: []string{"get"}},
			"load": {Aliases: []string{"get"}},
		},
	}
}

func (clashing) Find(context.Context, cbroker.Params) (any, error) { return nil, nil }
func (clashing) Load(context.Context, cbroker.Params) (any, error) { return nil, nil }

func TestGenerator_AliasClash(t *testing.T) {
	g := interceptor.NewGenerator(nil, nil, nil, nil)

	_, err := g.Proxy("clash", "Clash", clashing{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, berr.ErrInvalidMetadata))
}

func TestMatchContext(t *testing.T) {
	tests := []struct {
		allowed []string
		ctx     string
		want    bool
	}{
		{[]string{"http*"}, cbroker.ContextHTTPPost, true},
		{[]string{"http*"}, cbroker.ContextHTTPGet, true},
		{[]string{"http*"}, cbroker.ContextNative, false},
		{[]string{"http*", "native"}, cbroker.ContextNative, true},
		{[]string{"*"}, "anything", true},
		{[]string{"cli"}, cbroker.ContextHTTP, false},
		{nil, cbroker.ContextCLI, false},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, interceptor.MatchContext(tc.allowed, tc.ctx), "%v ~ %q", tc.allowed, tc.ctx)
	}

	assert.True(t, interceptor.ContextAllowed([]string{"cli"}, cbroker.ContextNative))
	assert.False(t, interceptor.ContextAllowed([]string{"cli"}, cbroker.ContextHTTP))
}
