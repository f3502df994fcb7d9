// Package compose turns a structured analysis into learner-facing text
// through an external text-generation service.
package compose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// ComposeMethod is the full gRPC method name of the composer service.
const ComposeMethod = "/signals.v1.HelpComposer/Compose"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errEmptyResponse            = errors.New("composer returned an empty message")
)

// Request is the structured analysis handed to the composer.
type Request struct {
	UserID      string
	SessionID   string
	Source      string
	Priority    string
	Score       float64
	Patterns    []string
	Actions     []string
	Template    string
	Diagnostics string
}

// Composer rewrites an intervention message. Callers fall back to
// Request.Template on error.
type Composer interface {
	Compose(ctx context.Context, req Request) (string, error)
	Close()
}

// Config holds connection settings for GrpcComposer.
type Config struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultConfig returns default connection settings for addr.
func DefaultConfig(addr string) Config {
	return Config{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   10 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GrpcComposer calls the composer service with structpb messages, so no
// generated stubs are needed.
type GrpcComposer struct {
	conn    *grpc.ClientConn
	addr    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGrpcComposer connects to the composer and fails fast when it is not ready.
func NewGrpcComposer(cfg Config, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcComposer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig(cfg.Address)
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = def.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = def.KeepaliveTimeout
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

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to composer at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("composer at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("[COMPOSE] Connected to composer service", "address", cfg.Address)
	return &GrpcComposer{
		conn:    conn,
		addr:    cfg.Address,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}, nil
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

// Compose sends req and returns the "message" field of the reply.
func (c *GrpcComposer) Compose(ctx context.Context, req Request) (string, error) {
	in, err := structpb.NewStruct(requestFields(req))
	if err != nil {
		return "", fmt.Errorf("build compose request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, ComposeMethod, in, out); err != nil {
		return "", fmt.Errorf("compose request failed: %w", err)
	}
	msg := out.GetFields()["message"].GetStringValue()
	if msg == "" {
		return "", errEmptyResponse
	}
	return msg, nil
}

// Close closes the gRPC connection.
func (c *GrpcComposer) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

func requestFields(req Request) map[string]any {
	return map[string]any{
		"user_id":     req.UserID,
		"session_id":  req.SessionID,
		"source":      req.Source,
		"priority":    req.Priority,
		"score":       req.Score,
		"patterns":    toList(req.Patterns),
		"actions":     toList(req.Actions),
		"template":    req.Template,
		"diagnostics": req.Diagnostics,
	}
}

func toList(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
