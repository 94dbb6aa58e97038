package lender

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ServiceName = "lender.Lender"

	MaterializeDatasetMethod      = "/lender.Lender/MaterializeDataset"
	LocateBlocksMethod            = "/lender.Lender/LocateBlocks"
	ComputePartitionAverageMethod = "/lender.Lender/ComputePartitionAverage"
)

// LenderServer is the server API for the lender.Lender service.
type LenderServer interface {
	MaterializeDataset(context.Context, *MaterializeRequest) (*StatusResponse, error)
	LocateBlocks(context.Context, *LocateBlocksRequest) (*LocateBlocksResponse, error)
	ComputePartitionAverage(context.Context, *PartitionAverageRequest) (*PartitionAverageResponse, error)
}

// UnimplementedLenderServer can be embedded to satisfy LenderServer.
type UnimplementedLenderServer struct{}

func (UnimplementedLenderServer) MaterializeDataset(context.Context, *MaterializeRequest) (*StatusResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method MaterializeDataset not implemented")
}

func (UnimplementedLenderServer) LocateBlocks(context.Context, *LocateBlocksRequest) (*LocateBlocksResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method LocateBlocks not implemented")
}

func (UnimplementedLenderServer) ComputePartitionAverage(context.Context, *PartitionAverageRequest) (*PartitionAverageResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ComputePartitionAverage not implemented")
}

// RegisterLenderServer attaches srv to s.
func RegisterLenderServer(s grpc.ServiceRegistrar, srv LenderServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func materializeDatasetHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(MaterializeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LenderServer).MaterializeDataset(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MaterializeDatasetMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LenderServer).MaterializeDataset(ctx, req.(*MaterializeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func locateBlocksHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LocateBlocksRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LenderServer).LocateBlocks(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: LocateBlocksMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LenderServer).LocateBlocks(ctx, req.(*LocateBlocksRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func computePartitionAverageHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PartitionAverageRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LenderServer).ComputePartitionAverage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ComputePartitionAverageMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LenderServer).ComputePartitionAverage(ctx, req.(*PartitionAverageRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the grpc.ServiceDesc for the lender.Lender service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LenderServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "MaterializeDataset", Handler: materializeDatasetHandler},
		{MethodName: "LocateBlocks", Handler: locateBlocksHandler},
		{MethodName: "ComputePartitionAverage", Handler: computePartitionAverageHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lender.proto",
}
