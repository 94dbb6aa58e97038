package lender

import (
	"context"

	"google.golang.org/grpc"
)

// LenderClient is the client API for the lender.Lender service.
type LenderClient interface {
	MaterializeDataset(ctx context.Context, in *MaterializeRequest, opts ...grpc.CallOption) (*StatusResponse, error)
	LocateBlocks(ctx context.Context, in *LocateBlocksRequest, opts ...grpc.CallOption) (*LocateBlocksResponse, error)
	ComputePartitionAverage(ctx context.Context, in *PartitionAverageRequest, opts ...grpc.CallOption) (*PartitionAverageResponse, error)
}

type lenderClient struct {
	cc grpc.ClientConnInterface
}

// NewLenderClient returns a client that sends every call in the JSON codec.
func NewLenderClient(cc grpc.ClientConnInterface) LenderClient {
	return &lenderClient{cc: cc}
}

func (c *lenderClient) invoke(ctx context.Context, method string, in, out interface{}, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *lenderClient) MaterializeDataset(ctx context.Context, in *MaterializeRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	out := new(StatusResponse)
	if err := c.invoke(ctx, MaterializeDatasetMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *lenderClient) LocateBlocks(ctx context.Context, in *LocateBlocksRequest, opts ...grpc.CallOption) (*LocateBlocksResponse, error) {
	out := new(LocateBlocksResponse)
	if err := c.invoke(ctx, LocateBlocksMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *lenderClient) ComputePartitionAverage(ctx context.Context, in *PartitionAverageRequest, opts ...grpc.CallOption) (*PartitionAverageResponse, error) {
	out := new(PartitionAverageResponse)
	if err := c.invoke(ctx, ComputePartitionAverageMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
