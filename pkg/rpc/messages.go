package rpc

import (
	"github.com/sidkik/boxsync/pkg/errors"
	"github.com/sidkik/boxsync/pkg/sync"
)

type LoginRequest struct {
	UserName string `json:"userName"`
}

type LoginResponse struct {
	Token sync.SessionToken `json:"token"`
	Error *errors.Error     `json:"error,omitempty"`
}

type LogoutRequest struct {
	Token sync.SessionToken `json:"token"`
}

type LogoutResponse struct {
	Error *errors.Error `json:"error,omitempty"`
}

type OpenFileRequest struct {
	Token  sync.SessionToken `json:"token"`
	Record sync.FileRecord   `json:"record"`
	Mode   sync.Mode         `json:"mode"`
}

type OpenFileResponse struct {
	FileID int64 `json:"fileId"`

	// BlockSize is the maximum block size that the server reads and writes.
	BlockSize int           `json:"blockSize"`
	Error     *errors.Error `json:"error,omitempty"`
}

type CloseFileRequest struct {
	Token  sync.SessionToken `json:"token"`
	FileID int64             `json:"fileId"`
}

type CloseFileResponse struct {
	Error *errors.Error `json:"error,omitempty"`
}

type ListFilesRequest struct {
	Token sync.SessionToken `json:"token"`
}

type ListFilesResponse struct {
	Files []sync.FileRecord `json:"files"`
	Error *errors.Error     `json:"error,omitempty"`
}

type FetchMetadataRequest struct {
	Token sync.SessionToken `json:"token"`
	Paths []string          `json:"paths"`
}

type FetchMetadataResponse struct {
	Files []sync.FileRecord `json:"files"`
	Error *errors.Error     `json:"error,omitempty"`
}

type ReadBlockRequest struct {
	Token    sync.SessionToken `json:"token"`
	FileID   int64             `json:"fileId"`
	Position int64             `json:"position"`
}

type ReadBlockResponse struct {
	Block sync.Block    `json:"block"`
	Error *errors.Error `json:"error,omitempty"`
}

type WriteBlockRequest struct {
	Token sync.SessionToken `json:"token"`
	Block sync.Block        `json:"block"`
}

type WriteBlockResponse struct {
	Error *errors.Error `json:"error,omitempty"`
}

type ServerTimeRequest struct{}

type ServerTimeResponse struct {
	Millis int64 `json:"millis"`
}

type PingRequest struct{}

type PingResponse struct{}

type VersionRequest struct{}

type VersionResponse struct {
	Version string `json:"version"`
}

func (resp *LoginResponse) GetError() *errors.Error {
	if resp == nil {
		return nil
	}
	return resp.Error
}

func (resp *LoginResponse) GetToken() sync.SessionToken {
	if resp == nil {
		return sync.SessionToken{}
	}
	return resp.Token
}

func (resp *LogoutResponse) GetError() *errors.Error {
	if resp == nil {
		return nil
	}
	return resp.Error
}

func (resp *OpenFileResponse) GetError() *errors.Error {
	if resp == nil {
		return nil
	}
	return resp.Error
}

func (resp *CloseFileResponse) GetError() *errors.Error {
	if resp == nil {
		return nil
	}
	return resp.Error
}

func (resp *ListFilesResponse) GetError() *errors.Error {
	if resp == nil {
		return nil
	}
	return resp.Error
}

func (resp *FetchMetadataResponse) GetError() *errors.Error {
	if resp == nil {
		return nil
	}
	return resp.Error
}

func (resp *ReadBlockResponse) GetError() *errors.Error {
	if resp == nil {
		return nil
	}
	return resp.Error
}

func (resp *WriteBlockResponse) GetError() *errors.Error {
	if resp == nil {
		return nil
	}
	return resp.Error
}
