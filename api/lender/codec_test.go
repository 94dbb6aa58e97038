package lender

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
)

func TestCodecRegistered(t *testing.T) {
	c := encoding.GetCodec(CodecName)
	require.NotNil(t, c)
	assert.Equal(t, "json", c.Name())
}

func TestCodec_WireNames(t *testing.T) {
	c := jsonCodec{}

	b, err := c.Marshal(&LocateBlocksResponse{BlockEntries: map[string]int64{"dn1": 2}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"block_entries":{"dn1":2},"error":""}`, string(b))

	b, err = c.Marshal(&PartitionAverageResponse{Average: 206667, Source: "create"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"average":206667,"source":"create","error":""}`, string(b))

	var req PartitionAverageRequest
	require.NoError(t, c.Unmarshal([]byte(`{"partition_key":55025}`), &req))
	assert.Equal(t, int64(55025), req.PartitionKey)
}

func TestCodec_EmptyPayload(t *testing.T) {
	var req MaterializeRequest
	assert.NoError(t, jsonCodec{}.Unmarshal(nil, &req))
}

func TestCodec_Malformed(t *testing.T) {
	var req LocateBlocksRequest
	err := jsonCodec{}.Unmarshal([]byte(`{"path":`), &req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lender: unmarshal")
}
