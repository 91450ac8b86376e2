package grpc

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ojs.retry.v1.RetryService"

// RetryServiceServer is the server API for RetryService.
type RetryServiceServer interface {
	Enqueue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecordAttemptResult(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOperation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RequeueDeadLetter(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStormStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAnalytics(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSummary(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes RetryService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RetryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Enqueue", RetryServiceServer.Enqueue),
		unary("RecordAttemptResult", RetryServiceServer.RecordAttemptResult),
		unary("GetOperation", RetryServiceServer.GetOperation),
		unary("RequeueDeadLetter", RetryServiceServer.RequeueDeadLetter),
		unary("GetStormStatus", RetryServiceServer.GetStormStatus),
		unary("GetAnalytics", RetryServiceServer.GetAnalytics),
		unary("GetSummary", RetryServiceServer.GetSummary),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ojs/retry/v1/service.proto",
}

type unaryMethod func(RetryServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryMethod) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RetryServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(RetryServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Server implements RetryService by delegating to a core.Engine.
type Server struct {
	engine core.Engine
}

var _ RetryServiceServer = (*Server)(nil)

// Register creates a new gRPC retry server and registers it with the given gRPC server.
func Register(s *grpc.Server, engine core.Engine) {
	s.RegisterService(&ServiceDesc, New(engine))
}

// New returns a new gRPC retry server wrapping the given engine.
func New(engine core.Engine) *Server {
	return &Server{engine: engine}
}

type operationRef struct {
	OperationID string `json:"operation_id"`
}

type attemptRequest struct {
	OperationID string `json:"operation_id"`
	core.AttemptResult
}

type dlqRef struct {
	DlqID string `json:"dlq_id"`
}

type policyTenantRef struct {
	PolicyID string `json:"policy_id"`
	TenantID string `json:"tenant_id"`
}

func (s *Server) Enqueue(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req core.EnqueueRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	op, err := s.engine.Enqueue(ctx, &req)
	if err != nil {
		return nil, coreErrorToGRPC(err)
	}
	return toStruct(map[string]any{"operation": op, "existing": op.IsExisting})
}

func (s *Server) RecordAttemptResult(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req attemptRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	op, err := s.engine.RecordAttemptResult(ctx, req.OperationID, &req.AttemptResult)
	if err != nil {
		return nil, coreErrorToGRPC(err)
	}
	return toStruct(map[string]any{"operation": op})
}

func (s *Server) GetOperation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req operationRef
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	op, err := s.engine.GetOperation(ctx, req.OperationID)
	if err != nil {
		return nil, coreErrorToGRPC(err)
	}
	return toStruct(map[string]any{"operation": op})
}

func (s *Server) RequeueDeadLetter(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req dlqRef
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	op, err := s.engine.RequeueDlqEntry(ctx, req.DlqID)
	if err != nil {
		return nil, coreErrorToGRPC(err)
	}
	return toStruct(map[string]any{"operation": op})
}

func (s *Server) GetStormStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req policyTenantRef
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	storm, err := s.engine.GetStormStatus(ctx, req.PolicyID, req.TenantID)
	if err != nil {
		return nil, coreErrorToGRPC(err)
	}
	return toStruct(map[string]any{"storm": storm})
}

func (s *Server) GetAnalytics(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req policyTenantRef
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	analytics, err := s.engine.GetAnalytics(ctx, req.PolicyID, req.TenantID)
	if err != nil {
		return nil, coreErrorToGRPC(err)
	}
	return toStruct(map[string]any{"analytics": analytics})
}

func (s *Server) GetSummary(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	summary, err := s.engine.GetSummary(ctx)
	if err != nil {
		return nil, coreErrorToGRPC(err)
	}
	return toStruct(map[string]any{"summary": summary})
}

// fromStruct decodes a Struct into v through its JSON form.
func fromStruct(in *structpb.Struct, v any) error {
	data, err := json.Marshal(in.AsMap())
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	return nil
}

// toStruct encodes v into a Struct through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

func coreErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}
	var ojsErr *core.OJSError
	if !errors.As(err, &ojsErr) {
		return status.Errorf(codes.Internal, "%s", err.Error())
	}

	switch ojsErr.Code {
	case core.ErrCodeNotFound:
		return status.Errorf(codes.NotFound, "%s", ojsErr.Message)
	case core.ErrCodeConflict:
		return status.Errorf(codes.FailedPrecondition, "%s", ojsErr.Message)
	case core.ErrCodeInvalidRequest, core.ErrCodeValidationError:
		return status.Errorf(codes.InvalidArgument, "%s", ojsErr.Message)
	default:
		return status.Errorf(codes.Internal, "%s", ojsErr.Message)
	}
}
