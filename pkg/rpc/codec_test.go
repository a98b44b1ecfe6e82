package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/encoding"

	"github.com/sidkik/boxsync/pkg/errors"
	"github.com/sidkik/boxsync/pkg/sync"
)

func TestCodecRegistered(t *testing.T) {
	c := encoding.GetCodec(CodecName)
	if assert.NotNil(t, c) {
		assert.Equal(t, CodecName, c.Name())
	}
}

func TestCodecBlockData(t *testing.T) {
	c := codec{}
	req := &WriteBlockRequest{
		Token: sync.SessionToken{UserName: "user", SessionID: "id"},
		Block: sync.Block{FileID: 3, Position: 1024, Data: []byte{0, 1, 2, 0xff}, Size: 4},
	}

	data, err := c.Marshal(req)
	assert.NoError(t, err)

	var decoded WriteBlockRequest
	assert.NoError(t, c.Unmarshal(data, &decoded))
	assert.Equal(t, *req, decoded)
}

func TestGetErrorNilResponse(t *testing.T) {
	var resp *OpenFileResponse
	assert.Nil(t, resp.GetError())

	resp = &OpenFileResponse{Error: &errors.Error{Kind: errors.KindBusy}}
	assert.Equal(t, &errors.Error{Kind: errors.KindBusy}, resp.GetError())
}
