package main

import (
	"context"
	"errors"
	"math"
	"time"

	"mini-jsonrpc/connection"
	"mini-jsonrpc/endpoint"
	"mini-jsonrpc/message"
)

// Math is exposed as the "math" module.
type Math struct{}

func (m *Math) Power(_ context.Context, params message.Params) (float64, error) {
	var base, exp float64
	if err := params.Bind(&base, &exp); err != nil {
		return 0, err
	}
	return math.Pow(base, exp), nil
}

func (m *Math) Sqrt(_ context.Context, params message.Params) (float64, error) {
	var x float64
	if err := params.Bind(&x); err != nil {
		return 0, err
	}
	if x < 0 {
		return 0, errors.New("square root of a negative number")
	}
	return math.Sqrt(x), nil
}

func add(_ context.Context, params message.Params) (any, error) {
	var a, b float64
	if err := params.Bind(&a, &b); err != nil {
		return nil, err
	}
	return a + b, nil
}

func multiply(_ context.Context, params message.Params) (any, error) {
	var a, b float64
	if err := params.Bind(&a, &b); err != nil {
		return nil, err
	}
	return a * b, nil
}

// delayedEcho replies with params[0] after params[1] milliseconds. The
// connection is not held up while the timer runs.
func delayedEcho(_ context.Context, params message.Params, _ connection.Conn, reply connection.ReplyFunc) {
	var data any
	var delay int
	if err := params.Bind(&data, &delay); err != nil {
		reply(err, nil)
		return
	}
	time.AfterFunc(time.Duration(delay)*time.Millisecond, func() { reply(nil, data) })
}

// delayedAdd replies with params[0]+params[1] after params[2] milliseconds.
func delayedAdd(_ context.Context, params message.Params, _ connection.Conn, reply connection.ReplyFunc) {
	var a, b float64
	var delay int
	if err := params.Bind(&a, &b, &delay); err != nil {
		reply(err, nil)
		return
	}
	time.AfterFunc(time.Duration(delay)*time.Millisecond, func() { reply(nil, a+b) })
}

// expose registers the example methods on e.
func expose(e *endpoint.Endpoint) error {
	e.Expose("add", endpoint.Func(add))
	e.Expose("multiply", endpoint.Func(multiply))

	if _, err := e.ExposeService("math", &Math{}); err != nil {
		return err
	}

	// By replying from a timer, a response can be delayed indefinitely while
	// the exchange stays open.
	e.ExposeModule("delayed", map[string]endpoint.Handler{
		"echo": delayedEcho,
		"add":  delayedAdd,
	})
	return nil
}
