package gqltest

import (
	"context"
	"fmt"

	"github.com/kleberbaum/gqty/internal/language"
	"github.com/kleberbaum/gqty/internal/transport"
)

// subscribe starts a subscription. The root field's resolver must return a
// channel of event values; every value is completed against the selection set
// and delivered as one response. The stream finishes when the channel is
// closed. Request errors are delivered as a single response.
func (s *Server) subscribe(ctx context.Context, payload transport.QueryPayload, buffer int) (transport.Stream, error) {
	s.record(payload)
	e, resp := s.prepare(ctx, payload)
	if resp != nil {
		return single(resp), nil
	}
	if e.op.Operation != language.Subscription {
		return single(e.run()), nil
	}
	root := e.rootType()
	if root == nil {
		return single(errorResponse("schema has no subscription type")), nil
	}
	collected := e.collectFields(root, e.op.SelectionSet)
	if len(collected) != 1 {
		return single(errorResponse("subscription must select exactly one root field")), nil
	}
	cf := collected[0]
	f := cf.fields[0]
	def := root.Fields.ForName(f.Name)
	if def == nil {
		return single(errorResponse(fmt.Sprintf("Cannot query field %q on type %q", f.Name, root.Name))), nil
	}
	args, err := coerceArguments(def, f.Arguments, e.vars)
	if err != nil {
		return single(errorResponse(err.Error())), nil
	}
	r := s.resolver(root.Name, f.Name, args)
	if r == nil {
		return single(errorResponse("no resolver for " + root.Name + "." + f.Name)), nil
	}

	ctx, cancel := context.WithCancel(ctx)
	v, err := r(ctx, nil, args)
	if err != nil {
		cancel()
		return nil, err
	}
	events, ok := eventChan(v)
	if !ok {
		cancel()
		return nil, fmt.Errorf("gqltest: %s.%s returned %T, want a channel", root.Name, f.Name, v)
	}

	stream := transport.NewChanStream(buffer, cancel)
	go func() {
		for {
			select {
			case <-ctx.Done():
				stream.Finish(ctx.Err())
				return
			case ev, open := <-events:
				if !open {
					stream.Finish(nil)
					return
				}
				resp, err := roundTrip(e.event(def, cf, ev))
				if err != nil {
					stream.Finish(err)
					return
				}
				if !stream.Send(resp) {
					return
				}
			}
		}
	}()
	return stream, nil
}

// event completes one event value on a fresh error list.
func (e *execution) event(def *language.FieldDefinition, cf collectedField, v any) *transport.Response {
	ev := &execution{ctx: e.ctx, srv: e.srv, doc: e.doc, op: e.op, vars: e.vars}
	path := []any{cf.responseName}
	c, ok := ev.complete(def.Type, cf.fields, v, path)
	resp := &transport.Response{Errors: ev.errors}
	if ok {
		resp.Data = map[string]any{cf.responseName: c}
	}
	return resp
}

func eventChan(v any) (<-chan any, bool) {
	switch ch := v.(type) {
	case <-chan any:
		return ch, true
	case chan any:
		return ch, true
	}
	return nil, false
}

func single(resp *transport.Response) transport.Stream {
	stream := transport.NewChanStream(1, nil)
	if out, err := roundTrip(resp); err == nil {
		stream.Send(out)
	}
	stream.Finish(nil)
	return stream
}
