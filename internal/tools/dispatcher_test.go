package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type addArgs struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register(MustFunc("add", "add an item", func(ctx context.Context, a addArgs) (any, error) {
		stream, _ := StreamIDFromContext(ctx)
		return map[string]any{"item_id": a.ItemID, "quantity": a.Quantity, "stream": stream}, nil
	})))
	require.NoError(t, reg.Register(Tool{
		Definition: Definition{Name: "boom"},
		Handler:    func(context.Context, json.RawMessage) (any, error) { panic("kaboom") },
	}))
	require.NoError(t, reg.Register(Tool{
		Definition: Definition{Name: "fails"},
		Handler: func(context.Context, json.RawMessage) (any, error) {
			return nil, errors.New("out of stock")
		},
	}))
	require.NoError(t, reg.Register(Tool{
		Definition: Definition{Name: "noop"},
		Handler:    func(context.Context, json.RawMessage) (any, error) { return nil, nil },
	}))
	require.NoError(t, reg.Register(Tool{
		Definition: Definition{Name: "slow"},
		Handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))
	return reg
}

func decode(t *testing.T, r Result) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(r.Payload, &m))
	return m
}

func TestDispatchSuccessCarriesStreamID(t *testing.T) {
	d := NewDispatcher(newTestRegistry(t), time.Second)
	res := d.Dispatch(WithStreamID(context.Background(), "S1"), "add", `{"item_id":"burger","quantity":2}`)
	require.False(t, res.Failed)
	m := decode(t, res)
	require.Equal(t, "burger", m["item_id"])
	require.EqualValues(t, 2, m["quantity"])
	require.Equal(t, "S1", m["stream"])
}

func TestDispatchMalformedArguments(t *testing.T) {
	d := NewDispatcher(newTestRegistry(t), time.Second)
	var res Result
	require.NotPanics(t, func() { res = d.Dispatch(context.Background(), "add", "{not json") })
	require.True(t, res.Failed)
	m := decode(t, res)
	require.Contains(t, m["error"], "invalid arguments")
	require.Equal(t, "add", m["function"])
}

func TestDispatchNonObjectArguments(t *testing.T) {
	d := NewDispatcher(newTestRegistry(t), time.Second)
	res := d.Dispatch(context.Background(), "add", `[1,2]`)
	require.True(t, res.Failed)
}

func TestDispatchUnknownName(t *testing.T) {
	d := NewDispatcher(newTestRegistry(t), time.Second)
	res := d.Dispatch(context.Background(), "does_not_exist", `{}`)
	require.True(t, res.Failed)
	require.JSONEq(t, `{"error":"unknown function \"does_not_exist\"","function":"does_not_exist"}`, string(res.Payload))
}

func TestDispatchHandlerFailures(t *testing.T) {
	d := NewDispatcher(newTestRegistry(t), time.Second)

	res := d.Dispatch(context.Background(), "boom", "")
	require.True(t, res.Failed)
	require.Contains(t, decode(t, res)["error"], "kaboom")

	res = d.Dispatch(context.Background(), "fails", "{}")
	require.True(t, res.Failed)
	require.Equal(t, "out of stock", decode(t, res)["error"])
}

func TestDispatchEmptyArgumentsAndNilResult(t *testing.T) {
	d := NewDispatcher(newTestRegistry(t), time.Second)
	res := d.Dispatch(context.Background(), "noop", "  ")
	require.False(t, res.Failed)
	require.JSONEq(t, `{"ok":true}`, string(res.Payload))
}

func TestDispatchTimeout(t *testing.T) {
	d := NewDispatcher(newTestRegistry(t), 20*time.Millisecond)
	res := d.Dispatch(context.Background(), "slow", "{}")
	require.True(t, res.Failed)
	require.Contains(t, decode(t, res)["error"], "deadline exceeded")
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := newTestRegistry(t)
	err := reg.Register(Tool{Definition: Definition{Name: "noop"}, Handler: func(context.Context, json.RawMessage) (any, error) { return nil, nil }})
	require.ErrorIs(t, err, ErrDuplicateTool)
	require.ErrorIs(t, reg.Register(Tool{}), ErrEmptyName)
}

func TestDefinitionsCarrySchema(t *testing.T) {
	defs := newTestRegistry(t).Definitions()
	require.Len(t, defs, 5)
	require.Equal(t, "add", defs[0].Name)
	require.Equal(t, "object", defs[0].Parameters["type"])
	props, ok := defs[0].Parameters["properties"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, props, "item_id")
	require.Contains(t, props, "quantity")
}
