// Package server exposes the session registry over connect RPC.
//
// Requests and responses are google.protobuf.Struct messages, so any
// connect, gRPC or gRPC-Web client can call the service without generated
// stubs:
//
//	POST /positron.runtime.v1.SessionService/StartSession
//	{"document_id": "nb-1", "runtime": {"language": "python"}}
package server

import (
	"context"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/t-kalinowski/positron/observability"
	"github.com/t-kalinowski/positron/session"
)

const ServiceName = "positron.runtime.v1.SessionService"

const (
	StartSessionProcedure    = "/" + ServiceName + "/StartSession"
	ShutdownSessionProcedure = "/" + ServiceName + "/ShutdownSession"
	RestartSessionProcedure  = "/" + ServiceName + "/RestartSession"
	GetSessionProcedure      = "/" + ServiceName + "/GetSession"
	ListSessionsProcedure    = "/" + ServiceName + "/ListSessions"
)

// Registry is the subset of *session.Registry the service calls.
type Registry interface {
	StartSession(ctx context.Context, doc session.DocumentID, rt session.RuntimeID) (session.Session, error)
	ShutdownSession(ctx context.Context, doc session.DocumentID) error
	RestartSession(ctx context.Context, doc session.DocumentID, rt session.RuntimeID) (session.Session, error)
	GetSession(doc session.DocumentID) (session.Session, bool)
	Sessions() []session.Session
}

type Option func(*service)

func WithObserver(o observability.Observer) Option {
	return func(s *service) { s.observer = observability.OrNoOp(o) }
}

// WithHandlerOptions adds connect options to every procedure.
func WithHandlerOptions(opts ...connect.HandlerOption) Option {
	return func(s *service) { s.handlerOpts = append(s.handlerOpts, opts...) }
}

type service struct {
	registry    Registry
	observer    observability.Observer
	handlerOpts []connect.HandlerOption
}

// New returns the service's path prefix and its handler, ready for
// http.ServeMux.Handle.
func New(registry Registry, opts ...Option) (string, http.Handler) {
	s := &service{
		registry: registry,
		observer: observability.NoOpObserver{},
	}

	for _, opt := range opts {
		opt(s)
	}

	handlerOpts := append([]connect.HandlerOption{
		connect.WithInterceptors(observe(s.observer)),
	}, s.handlerOpts...)

	mux := http.NewServeMux()
	mux.Handle(StartSessionProcedure, connect.NewUnaryHandler(StartSessionProcedure, s.startSession, handlerOpts...))
	mux.Handle(ShutdownSessionProcedure, connect.NewUnaryHandler(ShutdownSessionProcedure, s.shutdownSession, handlerOpts...))
	mux.Handle(RestartSessionProcedure, connect.NewUnaryHandler(RestartSessionProcedure, s.restartSession, handlerOpts...))
	mux.Handle(GetSessionProcedure, connect.NewUnaryHandler(GetSessionProcedure, s.getSession, handlerOpts...))
	mux.Handle(ListSessionsProcedure, connect.NewUnaryHandler(ListSessionsProcedure, s.listSessions, handlerOpts...))

	return "/" + ServiceName + "/", mux
}

func (s *service) startSession(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	in, err := parseDocumentRequest(req.Msg, true)
	if err != nil {
		return nil, toConnectError(err)
	}

	sess, err := s.registry.StartSession(ctx, in.doc, in.runtime)
	if err != nil {
		return nil, toConnectError(err)
	}
	return respond(sessionResponse(sess))
}

func (s *service) restartSession(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	in, err := parseDocumentRequest(req.Msg, true)
	if err != nil {
		return nil, toConnectError(err)
	}

	sess, err := s.registry.RestartSession(ctx, in.doc, in.runtime)
	if err != nil {
		return nil, toConnectError(err)
	}
	return respond(sessionResponse(sess))
}

func (s *service) shutdownSession(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	in, err := parseDocumentRequest(req.Msg, false)
	if err != nil {
		return nil, toConnectError(err)
	}

	if err := s.registry.ShutdownSession(ctx, in.doc); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&structpb.Struct{}), nil
}

func (s *service) getSession(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	in, err := parseDocumentRequest(req.Msg, false)
	if err != nil {
		return nil, toConnectError(err)
	}

	sess, ok := s.registry.GetSession(in.doc)
	if !ok {
		return respond(structpb.NewStruct(map[string]any{"found": false}))
	}
	return respond(structpb.NewStruct(map[string]any{
		"found":   true,
		"session": describe(sess).fields(),
	}))
}

func (s *service) listSessions(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	sessions := s.registry.Sessions()
	list := make([]any, len(sessions))
	for i, sess := range sessions {
		list[i] = describe(sess).fields()
	}
	return respond(structpb.NewStruct(map[string]any{"sessions": list}))
}

func respond(msg *structpb.Struct, err error) (*connect.Response[structpb.Struct], error) {
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// observe reports every call with its procedure, duration and outcome.
func observe(o observability.Observer) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			res, err := next(ctx, req)

			level := observability.LevelVerbose
			data := map[string]any{
				"procedure": req.Spec().Procedure,
				"duration":  time.Since(start).String(),
			}
			if err != nil {
				level = observability.LevelWarning
				data["code"] = connect.CodeOf(err).String()
				data["error"] = err
			}
			o.OnEvent(ctx, observability.NewEvent(EventRequest, level, "server", data))

			return res, err
		}
	}
}
