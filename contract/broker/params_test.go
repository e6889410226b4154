package broker_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
)

func TestParams_OrderAndSet(t *testing.T) {
	p := cbroker.NewParams("b", 1, "a", 2)
	p.Set("b", 3)
	p.Set("c", nil)

	assert.Equal(t, []string{"b", "a", "c"}, p.Names())

	v, ok := p.Get("b")
	require.True(t, ok)
	assert.Equal(t, 3, v)
	assert.True(t, p.Has("c"))
	assert.False(t, p.Has("d"))
}

func TestParams_JSONKeepsOrder(t *testing.T) {
	p := cbroker.NewParams("zeta", "z", "alpha", []any{"x"}, "mid", 1)

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"zeta":"z","alpha":["x"],"mid":1}`, string(raw))
	assert.Equal(t, `{"zeta":"z","alpha":["x"],"mid":1}`, string(raw))

	var back cbroker.Params
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, back.Names())
	assert.Equal(t, "z", back.String("zeta"))
	assert.Equal(t, "1", back.String("mid"))
}

func TestParams_Filter(t *testing.T) {
	p := cbroker.NewParams("a", 1, "b", 2, "c", 3)

	assert.Equal(t, []string{"a", "c"}, p.Filter([]string{"c", "a"}).Names())
	assert.Equal(t, []string{"a", "b", "c"}, p.Filter(nil).Names())
	assert.Empty(t, p.Filter([]string{}))
}

func TestResponses_Contains(t *testing.T) {
	r := cbroker.NewResponses()
	r.Push(map[string]any{"x": 1})
	r.Push(false)

	assert.True(t, r.Contains(false))
	assert.False(t, r.Contains(true))
	assert.False(t, r.Contains(map[string]any{"x": 1}))
	assert.Equal(t, false, r.Last())
	assert.Equal(t, 2, r.Len())
}

func TestIdentity_Username(t *testing.T) {
	var none cbroker.Identity
	assert.Equal(t, "", none.Username())

	id := cbroker.Identity{"username": "alice", "roles": []string{"admin"}}
	assert.Equal(t, "alice", id.Username())

	cp := id.Clone()
	cp["username"] = "bob"
	assert.Equal(t, "alice", id.Username())
}
