package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"
)

var (
	ErrUnknownTool  = errors.New("unknown function")
	ErrBadArguments = errors.New("invalid arguments")
	ErrHandlerPanic = errors.New("handler panicked")
)

// Result is the normalized outcome of one call. Payload is always valid JSON.
type Result struct {
	Payload json.RawMessage
	Failed  bool
}

func (r Result) String() string { return string(r.Payload) }

type errorPayload struct {
	Error    string `json:"error"`
	Function string `json:"function"`
}

func failure(name string, err error) Result {
	b, _ := json.Marshal(errorPayload{Error: err.Error(), Function: name})
	return Result{Payload: b, Failed: true}
}

// Dispatcher runs registry handlers. It never returns an error: every
// failure is converted into a Failed result the backend can explain.
type Dispatcher struct {
	reg     *Registry
	timeout time.Duration
}

func NewDispatcher(reg *Registry, timeout time.Duration) *Dispatcher {
	return &Dispatcher{reg: reg, timeout: timeout}
}

func (d *Dispatcher) Dispatch(ctx context.Context, name, rawArguments string) (res Result) {
	start := time.Now()
	defer func() {
		status := "ok"
		if res.Failed {
			status = "error"
		}
		metricCalls.WithLabelValues(status).Inc()
		metricCallMS.Observe(float64(time.Since(start).Milliseconds()))
	}()

	tool, ok := d.reg.Lookup(name)
	if !ok {
		log.Printf("[tools] unknown function %q", name)
		return failure(name, fmt.Errorf("%w %q", ErrUnknownTool, name))
	}
	args, err := parseArguments(rawArguments)
	if err != nil {
		log.Printf("[tools] %s: %v", name, err)
		return failure(name, err)
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	type outcome struct {
		v   any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", ErrHandlerPanic, p)}
			}
		}()
		v, err := tool.Handler(ctx, args)
		done <- outcome{v: v, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out = outcome{err: fmt.Errorf("%s: %w", name, ctx.Err())}
	}
	if out.err != nil {
		log.Printf("[tools] %s failed: %v", name, out.err)
		return failure(name, out.err)
	}
	if out.v == nil {
		return Result{Payload: json.RawMessage(`{"ok":true}`)}
	}
	b, err := json.Marshal(out.v)
	if err != nil {
		return failure(name, fmt.Errorf("encode result: %w", err))
	}
	return Result{Payload: b}
}

// parseArguments accepts an empty string as {} and otherwise requires a JSON object.
func parseArguments(raw string) (json.RawMessage, error) {
	b := bytes.TrimSpace([]byte(raw))
	if len(b) == 0 {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrBadArguments)
	}
	if b[0] != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrBadArguments)
	}
	return json.RawMessage(b), nil
}
