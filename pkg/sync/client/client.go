package client

//go:generate mockery -name Client

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/keepalive"

	"github.com/sidkik/boxsync/pkg/errors"
	"github.com/sidkik/boxsync/pkg/rpc"
	"github.com/sidkik/boxsync/pkg/sync"
	"github.com/sidkik/boxsync/pkg/version"
)

// Client is the interface for syncing files between the local machine and
// the user's container on the boxsync server.
type Client interface {
	Login(user string) (sync.SessionToken, error)
	Logout(token sync.SessionToken) error

	ListFiles(token sync.SessionToken) ([]sync.FileRecord, error)
	FetchMetadata(token sync.SessionToken, paths []string) ([]sync.FileRecord, error)

	OpenFile(token sync.SessionToken, record sync.FileRecord, mode sync.Mode) (int64, int, error)
	CloseFile(token sync.SessionToken, fileID int64) error
	ReadBlock(token sync.SessionToken, fileID int64, position int64) (sync.Block, error)
	WriteBlock(token sync.SessionToken, b sync.Block) error

	ServerTime() (int64, error)
	Ping() error
	GetVersion() (string, error)

	Close() error
}

type client struct {
	pbClient rpc.SyncClient
	grpcConn *grpc.ClientConn
}

// New returns a new sync Client connected to the server at `address`.
func New(address string, opts ...grpc.DialOption) (Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.UseCompressor(gzip.Name)),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	}, opts...)

	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, errors.WithContext(err, "dial")
	}

	return &client{
		pbClient: rpc.NewSyncClient(conn),
		grpcConn: conn,
	}, nil
}

// CheckVersion returns an error if the server's version isn't compatible
// with this client.
func CheckVersion(c Client) error {
	serverVersion, err := c.GetVersion()
	if err != nil {
		return errors.WithContext(err, "get server version")
	}
	return version.CheckCompatible(version.Version, serverVersion)
}

func (c *client) Login(user string) (sync.SessionToken, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := c.pbClient.Login(ctx, &rpc.LoginRequest{UserName: user})
	if err := errors.Unmarshal(err, resp.GetError()); err != nil {
		return sync.SessionToken{}, err
	}

	token := resp.GetToken()
	if !token.LoggedIn() {
		return sync.SessionToken{}, errors.WithContext(errors.ErrInvalidArgument,
			"server didn't assign a session")
	}
	return token, nil
}

func (c *client) Logout(token sync.SessionToken) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := c.pbClient.Logout(ctx, &rpc.LogoutRequest{Token: token})
	return errors.Unmarshal(err, resp.GetError())
}

func (c *client) ListFiles(token sync.SessionToken) ([]sync.FileRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()

	resp, err := c.pbClient.ListFiles(ctx, &rpc.ListFilesRequest{Token: token})
	if err := errors.Unmarshal(err, resp.GetError()); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

func (c *client) FetchMetadata(token sync.SessionToken, paths []string) ([]sync.FileRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	resp, err := c.pbClient.FetchMetadata(ctx, &rpc.FetchMetadataRequest{
		Token: token,
		Paths: paths,
	})
	if err := errors.Unmarshal(err, resp.GetError()); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

func (c *client) OpenFile(token sync.SessionToken, record sync.FileRecord, mode sync.Mode) (int64, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := c.pbClient.OpenFile(ctx, &rpc.OpenFileRequest{
		Token:  token,
		Record: record,
		Mode:   mode,
	})
	if err := errors.Unmarshal(err, resp.GetError()); err != nil {
		return 0, 0, err
	}
	return resp.FileID, resp.BlockSize, nil
}

func (c *client) CloseFile(token sync.SessionToken, fileID int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := c.pbClient.CloseFile(ctx, &rpc.CloseFileRequest{
		Token:  token,
		FileID: fileID,
	})
	return errors.Unmarshal(err, resp.GetError())
}

func (c *client) ReadBlock(token sync.SessionToken, fileID int64, position int64) (sync.Block, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()

	resp, err := c.pbClient.ReadBlock(ctx, &rpc.ReadBlockRequest{
		Token:    token,
		FileID:   fileID,
		Position: position,
	})
	if err := errors.Unmarshal(err, resp.GetError()); err != nil {
		return sync.Block{}, err
	}
	return resp.Block, nil
}

func (c *client) WriteBlock(token sync.SessionToken, b sync.Block) error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()

	resp, err := c.pbClient.WriteBlock(ctx, &rpc.WriteBlockRequest{
		Token: token,
		Block: b,
	})
	return errors.Unmarshal(err, resp.GetError())
}

func (c *client) ServerTime() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := c.pbClient.ServerTime(ctx, &rpc.ServerTimeRequest{})
	if err != nil {
		return 0, errors.Unmarshal(err, nil)
	}
	return resp.Millis, nil
}

func (c *client) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := c.pbClient.Ping(ctx, &rpc.PingRequest{})
	return errors.Unmarshal(err, nil)
}

func (c *client) GetVersion() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := c.pbClient.Version(ctx, &rpc.VersionRequest{})
	if err != nil {
		return "", errors.Unmarshal(err, nil)
	}
	return resp.Version, nil
}

func (c *client) Close() error {
	return c.grpcConn.Close()
}
