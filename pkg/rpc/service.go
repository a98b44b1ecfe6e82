package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified name of the sync service.
const ServiceName = "boxsync.Sync"

// SyncServer is the server API for the sync service.
type SyncServer interface {
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
	OpenFile(context.Context, *OpenFileRequest) (*OpenFileResponse, error)
	CloseFile(context.Context, *CloseFileRequest) (*CloseFileResponse, error)
	ListFiles(context.Context, *ListFilesRequest) (*ListFilesResponse, error)
	FetchMetadata(context.Context, *FetchMetadataRequest) (*FetchMetadataResponse, error)
	ReadBlock(context.Context, *ReadBlockRequest) (*ReadBlockResponse, error)
	WriteBlock(context.Context, *WriteBlockRequest) (*WriteBlockResponse, error)
	ServerTime(context.Context, *ServerTimeRequest) (*ServerTimeResponse, error)
	Ping(context.Context, *PingRequest) (*PingResponse, error)
	Version(context.Context, *VersionRequest) (*VersionResponse, error)
}

// RegisterSyncServer registers the sync service with a gRPC server.
func RegisterSyncServer(s *grpc.Server, srv SyncServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SyncServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Login", SyncServer.Login),
		unaryMethod("Logout", SyncServer.Logout),
		unaryMethod("OpenFile", SyncServer.OpenFile),
		unaryMethod("CloseFile", SyncServer.CloseFile),
		unaryMethod("ListFiles", SyncServer.ListFiles),
		unaryMethod("FetchMetadata", SyncServer.FetchMetadata),
		unaryMethod("ReadBlock", SyncServer.ReadBlock),
		unaryMethod("WriteBlock", SyncServer.WriteBlock),
		unaryMethod("ServerTime", SyncServer.ServerTime),
		unaryMethod("Ping", SyncServer.Ping),
		unaryMethod("Version", SyncServer.Version),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "boxsync/sync.json",
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryMethod[Req, Resp any](name string,
	call func(SyncServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {

	handler := func(srv interface{}, ctx context.Context, dec func(interface{}) error,
		interceptor grpc.UnaryServerInterceptor) (interface{}, error) {

		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}

		if interceptor == nil {
			return call(srv.(SyncServer), ctx, in)
		}

		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(SyncServer), ctx, req.(*Req))
		})
	}
	return grpc.MethodDesc{MethodName: name, Handler: handler}
}

// SyncClient is the client API for the sync service.
type SyncClient interface {
	Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error)
	Logout(ctx context.Context, in *LogoutRequest, opts ...grpc.CallOption) (*LogoutResponse, error)
	OpenFile(ctx context.Context, in *OpenFileRequest, opts ...grpc.CallOption) (*OpenFileResponse, error)
	CloseFile(ctx context.Context, in *CloseFileRequest, opts ...grpc.CallOption) (*CloseFileResponse, error)
	ListFiles(ctx context.Context, in *ListFilesRequest, opts ...grpc.CallOption) (*ListFilesResponse, error)
	FetchMetadata(ctx context.Context, in *FetchMetadataRequest, opts ...grpc.CallOption) (*FetchMetadataResponse, error)
	ReadBlock(ctx context.Context, in *ReadBlockRequest, opts ...grpc.CallOption) (*ReadBlockResponse, error)
	WriteBlock(ctx context.Context, in *WriteBlockRequest, opts ...grpc.CallOption) (*WriteBlockResponse, error)
	ServerTime(ctx context.Context, in *ServerTimeRequest, opts ...grpc.CallOption) (*ServerTimeResponse, error)
	Ping(ctx context.Context, in *PingRequest, opts ...grpc.CallOption) (*PingResponse, error)
	Version(ctx context.Context, in *VersionRequest, opts ...grpc.CallOption) (*VersionResponse, error)
}

type syncClient struct {
	cc grpc.ClientConnInterface
}

// NewSyncClient returns a SyncClient that makes calls over `cc`.
func NewSyncClient(cc grpc.ClientConnInterface) SyncClient {
	return &syncClient{cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string,
	in interface{}, opts []grpc.CallOption) (*Resp, error) {

	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *syncClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	return invoke[LoginResponse](ctx, c.cc, "Login", in, opts)
}

func (c *syncClient) Logout(ctx context.Context, in *LogoutRequest, opts ...grpc.CallOption) (*LogoutResponse, error) {
	return invoke[LogoutResponse](ctx, c.cc, "Logout", in, opts)
}

func (c *syncClient) OpenFile(ctx context.Context, in *OpenFileRequest, opts ...grpc.CallOption) (*OpenFileResponse, error) {
	return invoke[OpenFileResponse](ctx, c.cc, "OpenFile", in, opts)
}

func (c *syncClient) CloseFile(ctx context.Context, in *CloseFileRequest, opts ...grpc.CallOption) (*CloseFileResponse, error) {
	return invoke[CloseFileResponse](ctx, c.cc, "CloseFile", in, opts)
}

func (c *syncClient) ListFiles(ctx context.Context, in *ListFilesRequest, opts ...grpc.CallOption) (*ListFilesResponse, error) {
	return invoke[ListFilesResponse](ctx, c.cc, "ListFiles", in, opts)
}

func (c *syncClient) FetchMetadata(ctx context.Context, in *FetchMetadataRequest, opts ...grpc.CallOption) (*FetchMetadataResponse, error) {
	return invoke[FetchMetadataResponse](ctx, c.cc, "FetchMetadata", in, opts)
}

func (c *syncClient) ReadBlock(ctx context.Context, in *ReadBlockRequest, opts ...grpc.CallOption) (*ReadBlockResponse, error) {
	return invoke[ReadBlockResponse](ctx, c.cc, "ReadBlock", in, opts)
}

func (c *syncClient) WriteBlock(ctx context.Context, in *WriteBlockRequest, opts ...grpc.CallOption) (*WriteBlockResponse, error) {
	return invoke[WriteBlockResponse](ctx, c.cc, "WriteBlock", in, opts)
}

func (c *syncClient) ServerTime(ctx context.Context, in *ServerTimeRequest, opts ...grpc.CallOption) (*ServerTimeResponse, error) {
	return invoke[ServerTimeResponse](ctx, c.cc, "ServerTime", in, opts)
}

func (c *syncClient) Ping(ctx context.Context, in *PingRequest, opts ...grpc.CallOption) (*PingResponse, error) {
	return invoke[PingResponse](ctx, c.cc, "Ping", in, opts)
}

func (c *syncClient) Version(ctx context.Context, in *VersionRequest, opts ...grpc.CallOption) (*VersionResponse, error) {
	return invoke[VersionResponse](ctx, c.cc, "Version", in, opts)
}
