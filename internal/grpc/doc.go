// Package grpc provides a gRPC transport for the retry engine.
//
// The service is ojs.retry.v1.RetryService. Every method is unary and takes
// and returns a google.protobuf.Struct whose fields mirror the JSON bodies of
// the HTTP API, so no generated code is needed on either side:
//
//	grpcServer := grpc.NewServer()
//	ojsgrpc.Register(grpcServer, eng)
//	lis, _ := net.Listen("tcp", ":9090")
//	grpcServer.Serve(lis)
//
// Client wraps a connection with typed calls.
package grpc
