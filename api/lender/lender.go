// Package lender defines the wire contract of the lender.Lender gRPC
// service: message types, the JSON codec they travel in, the service
// descriptor and a typed client.
package lender

// MaterializeRequest has no fields.
type MaterializeRequest struct{}

// StatusResponse reports the outcome of MaterializeDataset as text.
type StatusResponse struct {
	Status string `json:"status"`
}

// LocateBlocksRequest names an absolute path in the file store.
type LocateBlocksRequest struct {
	Path string `json:"path"`
}

// LocateBlocksResponse maps datanode host to the number of blocks it holds.
// Error is empty on success.
type LocateBlocksResponse struct {
	BlockEntries map[string]int64 `json:"block_entries"`
	Error        string           `json:"error"`
}

// PartitionAverageRequest selects a partition by county_code.
type PartitionAverageRequest struct {
	PartitionKey int64 `json:"partition_key"`
}

// PartitionAverageResponse carries the truncated average loan amount and
// the provenance: "reuse", "create", "recreate", or "" on error.
type PartitionAverageResponse struct {
	Average int64  `json:"average"`
	Source  string `json:"source"`
	Error   string `json:"error"`
}
