package suggest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/ashureev/vulndash/internal/assist"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GRPCConfig holds configuration for the gRPC transport.
type GRPCConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGRPCConfig returns default configuration for addr.
func DefaultGRPCConfig(addr string) GRPCConfig {
	if addr == "" {
		addr = "localhost:50051"
	}
	return GRPCConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPCTransport streams suggestions from a remote suggestion server over gRPC.
type GRPCTransport struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// NewGRPCTransport dials the suggestion server and waits until it is ready.
func NewGRPCTransport(cfg GRPCConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GRPCTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("create suggestion client for %s: %w", cfg.Address, err)
	}

	if cfg.ConnectTimeout > 0 {
		connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
		defer cancel()
		if err := waitForReady(connectCtx, conn); err != nil {
			if closeErr := conn.Close(); closeErr != nil {
				logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
			}
			return nil, fmt.Errorf("suggestion server at %s not ready: %w", cfg.Address, err)
		}
	}

	logger.Info("Connected to suggestion server", "address", cfg.Address)
	return &GRPCTransport{conn: conn, addr: cfg.Address, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (t *GRPCTransport) Close() {
	if t.conn != nil {
		if err := t.conn.Close(); err != nil {
			t.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Suggest implements assist.Transport.
func (t *GRPCTransport) Suggest(ctx context.Context, req assist.SuggestionRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		in, err := requestToStruct(req)
		if err != nil {
			yield("", err)
			return
		}

		stream, err := t.conn.NewStream(ctx, &streamDesc, StreamMethod)
		if err != nil {
			yield("", errorFromStatus(err, nil))
			return
		}
		if err := stream.SendMsg(in); err != nil && !errors.Is(err, io.EOF) {
			yield("", errorFromStatus(err, nil))
			return
		}
		if err := stream.CloseSend(); err != nil {
			yield("", errorFromStatus(err, nil))
			return
		}

		for {
			chunk := new(wrapperspb.StringValue)
			err := stream.RecvMsg(chunk)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				t.logger.Debug("Suggestion stream error", "error", err, "address", t.addr)
				yield("", errorFromStatus(err, stream.Trailer()))
				return
			}
			if !yield(chunk.GetValue(), nil) {
				return
			}
		}
	}
}

func requestToStruct(req assist.SuggestionRequest) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(map[string]any{
		"vulnerability": req.Vulnerability,
		"package":       req.Package,
		"severity":      req.Severity,
		"patched_in":    req.PatchedIn,
		"apply_fix_in":  req.ApplyFixIn,
		"repo_name":     req.RepoName,
		"created_at":    req.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("encode suggestion request: %w", err)
	}
	return s, nil
}
