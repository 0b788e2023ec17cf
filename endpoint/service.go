package endpoint

import (
	"context"
	"fmt"
	"reflect"

	"mini-jsonrpc/connection"
	"mini-jsonrpc/message"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	paramsType  = reflect.TypeOf(message.Params(nil))
	connType    = reflect.TypeOf((*connection.Conn)(nil)).Elem()
	replyType   = reflect.TypeOf(connection.ReplyFunc(nil))
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// ExposeService registers the exported methods of rcvr under prefix. Method
// names are lower-camel-cased: (*Math).Power becomes "math.power" for prefix
// "math".
//
// Two method shapes are recognised; anything else is skipped:
//
//	func (s *T) Name(ctx context.Context, params message.Params, conn connection.Conn, reply connection.ReplyFunc)
//	func (s *T) Name(ctx context.Context, params message.Params) (R, error)
//
// It returns the registered method names.
func (e *Endpoint) ExposeService(prefix string, rcvr any) ([]string, error) {
	// 1. 用 reflect.TypeOf / ValueOf 获取类型和值
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("endpoint: rcvr must be a pointer, got %T", rcvr)
	}
	val := reflect.ValueOf(rcvr)

	// 2. 扫描导出方法
	funcs := make(map[string]Handler)
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if h := adaptMethod(val.Method(i), method.Type); h != nil {
			funcs[methodName(method.Name)] = h
		}
	}
	if len(funcs) == 0 {
		return nil, fmt.Errorf("endpoint: %s has no exported methods of a handler shape", typ)
	}

	e.ExposeModule(prefix, funcs)
	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, prefix+"."+name)
	}
	return names, nil
}

// adaptMethod wraps a bound method value as a Handler. mtype includes the
// receiver as its first input.
func adaptMethod(fn reflect.Value, mtype reflect.Type) Handler {
	in := mtype.NumIn() - 1
	if in < 2 || mtype.In(1) != contextType || mtype.In(2) != paramsType {
		return nil
	}

	switch {
	case in == 4 && mtype.NumOut() == 0 && mtype.In(3) == connType && mtype.In(4) == replyType:
		h := fn.Interface().(func(context.Context, message.Params, connection.Conn, connection.ReplyFunc))
		return Handler(h)

	case in == 2 && mtype.NumOut() == 2 && mtype.Out(1) == errorType:
		return func(ctx context.Context, params message.Params, _ connection.Conn, reply connection.ReplyFunc) {
			results := fn.Call([]reflect.Value{reflect.ValueOf(ctx), reflect.ValueOf(params)})
			var err error
			if !results[1].IsNil() {
				err = results[1].Interface().(error)
			}
			reply(err, results[0].Interface())
		}
	}
	return nil
}
