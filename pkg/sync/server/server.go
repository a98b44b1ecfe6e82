package server

import (
	"context"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/sidkik/boxsync/cmd/util"
	"github.com/sidkik/boxsync/pkg/errors"
	"github.com/sidkik/boxsync/pkg/rpc"
	"github.com/sidkik/boxsync/pkg/sync"
	"github.com/sidkik/boxsync/pkg/sync/block"
	"github.com/sidkik/boxsync/pkg/version"

	_ "google.golang.org/grpc/encoding/gzip" // Install the gzip compressor
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// Config contains the server's settings.
type Config struct {
	// Listen is the address that the gRPC server listens on.
	Listen string

	// Root is the directory that contains each user's container.
	Root string

	BlockSize  int
	SessionTTL time.Duration

	// MetricsAddress is the address that Prometheus metrics are served on.
	// Metrics are disabled if it's empty.
	MetricsAddress string
}

// Server implements the sync service. Each user's container is a directory
// at the root of the server's filesystem.
type Server struct {
	fs        afero.Fs
	clock     clockwork.Clock
	blockSize int
	hashes    *sync.HashCache

	handles  *HandleManager
	sessions *SessionManager
}

// New creates a Server that stores containers in `rootFs`.
func New(rootFs afero.Fs, clock clockwork.Clock, cfg Config) (*Server, error) {
	blockSize := cfg.BlockSize
	if blockSize <= 0 {
		blockSize = block.DefaultSize
	}
	if blockSize > block.MaxSize {
		return nil, errors.NewFriendlyError("The block size must be at most %d bytes. Got %d.",
			block.MaxSize, blockSize)
	}

	hashes, err := sync.NewHashCache(4096)
	if err != nil {
		return nil, errors.WithContext(err, "create hash cache")
	}

	handles := NewHandleManager(rootFs, blockSize)
	return &Server{
		fs:        rootFs,
		clock:     clock,
		blockSize: blockSize,
		hashes:    hashes,
		handles:   handles,
		sessions:  NewSessionManager(rootFs, handles, clock, cfg.SessionTTL),
	}, nil
}

// Run starts the sync server and listens for connections.
func Run(ctx context.Context, cfg Config) error {
	if err := fs.MkdirAll(cfg.Root, 0755); err != nil {
		return errors.WithContext(err, "create root")
	}

	s, err := New(afero.NewBasePathFs(fs, cfg.Root), clockwork.NewRealClock(), cfg)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return errors.WithContext(err, "listen")
	}

	grpcServer := s.GRPCServer()
	go func() {
		defer util.HandlePanic()
		s.sessions.RunEviction(ctx)
	}()

	if cfg.MetricsAddress != "" {
		go func() {
			defer util.HandlePanic()
			mux := http.NewServeMux()
			mux.Handle("/metrics", metricsHandler())
			err := http.ListenAndServe(cfg.MetricsAddress, mux)
			log.WithError(err).Error("Metrics server exited")
		}()
	}

	go func() {
		<-ctx.Done()
		grpcServer.GracefulStop()
	}()

	log.WithFields(log.Fields{
		"address":   cfg.Listen,
		"root":      cfg.Root,
		"blockSize": s.blockSize,
	}).Info("boxsync server is ready")
	if err := grpcServer.Serve(lis); err != nil {
		return errors.WithContext(err, "serve")
	}
	return nil
}

// GRPCServer returns a gRPC server with the sync service registered.
func (s *Server) GRPCServer() *grpc.Server {
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(recordRequest),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	rpc.RegisterSyncServer(grpcServer, s)
	return grpcServer
}

type errorResponse interface {
	GetError() *errors.Error
}

func recordRequest(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler) (interface{}, error) {

	start := time.Now()
	resp, err := handler(ctx, req)

	status := "ok"
	if withErr, ok := resp.(errorResponse); err != nil || (ok && withErr.GetError() != nil) {
		status = "error"
	}
	method := path.Base(info.FullMethod)
	rpcRequestsTotal.WithLabelValues(method, status).Inc()
	rpcRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	return resp, err
}

func (s *Server) Login(ctx context.Context, req *rpc.LoginRequest) (*rpc.LoginResponse, error) {
	token, err := s.sessions.Login(req.UserName)
	if err != nil {
		log.WithError(err).WithField("user", req.UserName).Warn("Rejected login")
		return &rpc.LoginResponse{Error: errors.Marshal(err)}, nil
	}
	return &rpc.LoginResponse{Token: token}, nil
}

func (s *Server) Logout(ctx context.Context, req *rpc.LogoutRequest) (*rpc.LogoutResponse, error) {
	s.sessions.Logout(req.Token)
	return &rpc.LogoutResponse{}, nil
}

func (s *Server) OpenFile(ctx context.Context, req *rpc.OpenFileRequest) (*rpc.OpenFileResponse, error) {
	containerPath, err := s.authorizePath(req.Token, req.Record.RelativePath)
	if err != nil {
		return &rpc.OpenFileResponse{Error: errors.Marshal(err)}, nil
	}

	id, err := s.handles.Open(req.Token.SessionID, containerPath, req.Mode)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"user": req.Token.UserName,
			"path": req.Record.RelativePath,
			"mode": req.Mode,
		}).Debug("Failed to open file")
		return &rpc.OpenFileResponse{Error: errors.Marshal(err)}, nil
	}
	return &rpc.OpenFileResponse{FileID: id, BlockSize: s.blockSize}, nil
}

func (s *Server) CloseFile(ctx context.Context, req *rpc.CloseFileRequest) (*rpc.CloseFileResponse, error) {
	if err := s.sessions.Authorize(req.Token); err != nil {
		return &rpc.CloseFileResponse{Error: errors.Marshal(err)}, nil
	}

	err := s.handles.Close(req.Token.SessionID, req.FileID)
	return &rpc.CloseFileResponse{Error: errors.Marshal(err)}, nil
}

func (s *Server) ListFiles(ctx context.Context, req *rpc.ListFilesRequest) (*rpc.ListFilesResponse, error) {
	if err := s.sessions.Authorize(req.Token); err != nil {
		return &rpc.ListFilesResponse{Error: errors.Marshal(err)}, nil
	}

	inv, err := sync.Scan(s.fs, req.Token.UserName)
	if err != nil {
		return &rpc.ListFilesResponse{Error: errors.Marshal(err)}, nil
	}

	var files []sync.FileRecord
	for _, f := range inv.Records() {
		f.RootFolder = ""
		files = append(files, f)
	}
	return &rpc.ListFilesResponse{Files: files}, nil
}

func (s *Server) FetchMetadata(ctx context.Context, req *rpc.FetchMetadataRequest) (
	*rpc.FetchMetadataResponse, error) {

	if err := s.sessions.Authorize(req.Token); err != nil {
		return &rpc.FetchMetadataResponse{Error: errors.Marshal(err)}, nil
	}

	var files []sync.FileRecord
	for _, p := range req.Paths {
		relPath, err := sync.CleanRelativePath(p)
		if err != nil {
			log.WithError(err).WithField("path", p).Debug("Skipping invalid path")
			continue
		}

		f, err := sync.Metadata(s.fs, req.Token.UserName, relPath, s.hashes)
		if err != nil {
			log.WithError(err).WithField("path", p).Debug("Failed to get metadata")
			continue
		}
		f.RootFolder = ""
		files = append(files, f)
	}
	return &rpc.FetchMetadataResponse{Files: files}, nil
}

func (s *Server) ReadBlock(ctx context.Context, req *rpc.ReadBlockRequest) (*rpc.ReadBlockResponse, error) {
	if err := s.sessions.Authorize(req.Token); err != nil {
		return &rpc.ReadBlockResponse{Error: errors.Marshal(err)}, nil
	}

	b, err := s.handles.ReadBlock(req.Token.SessionID, req.FileID, req.Position)
	if err != nil {
		return &rpc.ReadBlockResponse{Error: errors.Marshal(err)}, nil
	}
	return &rpc.ReadBlockResponse{Block: b}, nil
}

func (s *Server) WriteBlock(ctx context.Context, req *rpc.WriteBlockRequest) (*rpc.WriteBlockResponse, error) {
	if err := s.sessions.Authorize(req.Token); err != nil {
		return &rpc.WriteBlockResponse{Error: errors.Marshal(err)}, nil
	}

	err := s.handles.WriteBlock(req.Token.SessionID, req.Block)
	return &rpc.WriteBlockResponse{Error: errors.Marshal(err)}, nil
}

func (s *Server) ServerTime(ctx context.Context, _ *rpc.ServerTimeRequest) (*rpc.ServerTimeResponse, error) {
	return &rpc.ServerTimeResponse{
		Millis: s.clock.Now().UnixNano() / int64(time.Millisecond),
	}, nil
}

func (s *Server) Ping(ctx context.Context, _ *rpc.PingRequest) (*rpc.PingResponse, error) {
	return &rpc.PingResponse{}, nil
}

func (s *Server) Version(ctx context.Context, _ *rpc.VersionRequest) (*rpc.VersionResponse, error) {
	return &rpc.VersionResponse{Version: version.Version}, nil
}

// authorizePath checks the token, and returns the path of `relPath` within
// the user's container.
func (s *Server) authorizePath(token sync.SessionToken, relPath string) (string, error) {
	if err := s.sessions.Authorize(token); err != nil {
		return "", err
	}

	cleaned, err := sync.CleanRelativePath(relPath)
	if err != nil {
		return "", err
	}
	return path.Join(token.UserName, cleaned), nil
}
