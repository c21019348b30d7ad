// Package client is a Go client for the memoria gRPC service.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/goclaw/memoria/pkg/grpc/memoryv1"
)

// Client talks to a memoria server.
type Client struct {
	conn         *grpc.ClientConn
	memory       memoryv1.MemoryServiceClient
	healthClient grpc_health_v1.HealthClient
	opts         *Options
	retryPolicy  *RetryPolicy
}

// Options contains client configuration options
type Options struct {
	// Address is the server address (host:port)
	Address string

	// TLS configuration
	TLSEnabled bool
	CertFile   string
	KeyFile    string
	CAFile     string
	ServerName string

	MaxRecvMsgSize int
	MaxSendMsgSize int

	// Timeout bounds each call whose context has no deadline.
	Timeout   time.Duration
	KeepAlive *KeepAliveOptions

	// RetryPolicy applies to read calls only. Writes are sent once.
	RetryPolicy *RetryPolicy

	// Additional dial options
	DialOptions []grpc.DialOption
}

// KeepAliveOptions contains keepalive configuration
type KeepAliveOptions struct {
	Time                time.Duration
	Timeout             time.Duration
	PermitWithoutStream bool
}

// RetryPolicy defines retry behavior. RetryableErrors holds code names
// such as "Unavailable", matched case-insensitively.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	RetryableErrors   []string
}

// DefaultOptions returns default client options
func DefaultOptions(address string) *Options {
	return &Options{
		Address:        address,
		MaxRecvMsgSize: 4 * 1024 * 1024,
		MaxSendMsgSize: 4 * 1024 * 1024,
		Timeout:        10 * time.Second,
		KeepAlive: &KeepAliveOptions{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: false,
		},
		RetryPolicy: DefaultRetryPolicy(),
	}
}

// DefaultRetryPolicy returns default retry policy
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
		RetryableErrors: []string{
			"Unavailable",
			"ResourceExhausted",
		},
	}
}

// NewClient creates a client for opts.Address. The connection is
// established lazily on the first call.
func NewClient(opts *Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("options cannot be nil")
	}
	if opts.Address == "" {
		return nil, fmt.Errorf("address is required")
	}

	var callOpts []grpc.CallOption
	if opts.MaxRecvMsgSize > 0 {
		callOpts = append(callOpts, grpc.MaxCallRecvMsgSize(opts.MaxRecvMsgSize))
	}
	if opts.MaxSendMsgSize > 0 {
		callOpts = append(callOpts, grpc.MaxCallSendMsgSize(opts.MaxSendMsgSize))
	}
	dialOpts := []grpc.DialOption{grpc.WithDefaultCallOptions(callOpts...)}

	if opts.KeepAlive != nil {
		dialOpts = append(dialOpts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                opts.KeepAlive.Time,
			Timeout:             opts.KeepAlive.Timeout,
			PermitWithoutStream: opts.KeepAlive.PermitWithoutStream,
		}))
	}

	if opts.TLSEnabled {
		creds, err := loadTLSCredentials(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(creds))
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	dialOpts = append(dialOpts, opts.DialOptions...)

	conn, err := grpc.NewClient(opts.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", opts.Address, err)
	}

	return &Client{
		conn:         conn,
		memory:       memoryv1.NewMemoryServiceClient(conn),
		healthClient: grpc_health_v1.NewHealthClient(conn),
		opts:         opts,
		retryPolicy:  opts.RetryPolicy,
	}, nil
}

// loadTLSCredentials loads TLS credentials from files
func loadTLSCredentials(opts *Options) (credentials.TransportCredentials, error) {
	var certPool *x509.CertPool
	if opts.CAFile != "" {
		caCert, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		certPool = x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA certificate")
		}
	}

	// Client certificate for mTLS
	var certificates []tls.Certificate
	if opts.CertFile != "" && opts.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		certificates = append(certificates, cert)
	}

	return credentials.NewTLS(&tls.Config{
		Certificates: certificates,
		RootCAs:      certPool,
		ServerName:   opts.ServerName,
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// Close closes the client connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// HealthCheck reports an error unless the memory service is SERVING.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.healthClient.Check(ctx, &grpc_health_v1.HealthCheckRequest{
		Service: memoryv1.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("service not healthy: %s", resp.Status)
	}
	return nil
}

// WaitForReady waits for the connection to be ready
func (c *Client) WaitForReady(ctx context.Context) error {
	c.conn.Connect()
	for {
		state := c.conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if !c.conn.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
	}
}

// GetConnection returns the underlying gRPC connection
func (c *Client) GetConnection() *grpc.ClientConn {
	return c.conn
}

// Remember stores content for an entity. A nil importance uses the server
// default.
func (c *Client) Remember(ctx context.Context, req *memoryv1.RememberRequest) (*memoryv1.RememberResponse, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	return c.memory.Remember(ctx, req)
}

// Retrieve returns the formatted memory context for a query.
func (c *Client) Retrieve(ctx context.Context, entityID, query string) (string, error) {
	resp, err := withRetry(c, ctx, func(ctx context.Context, opts ...grpc.CallOption) (*memoryv1.RetrieveResponse, error) {
		ctx, cancel := c.callContext(ctx)
		defer cancel()
		return c.memory.Retrieve(ctx, &memoryv1.RetrieveRequest{EntityID: entityID, Query: query}, opts...)
	})
	if err != nil {
		return "", err
	}
	return resp.Context, nil
}

// Search returns up to limit ranked memories. Zero uses the server default.
func (c *Client) Search(ctx context.Context, entityID, query string, limit int) ([]memoryv1.SearchHit, error) {
	resp, err := withRetry(c, ctx, func(ctx context.Context, opts ...grpc.CallOption) (*memoryv1.SearchResponse, error) {
		ctx, cancel := c.callContext(ctx)
		defer cancel()
		return c.memory.Search(ctx, &memoryv1.SearchRequest{EntityID: entityID, Query: query, Limit: limit}, opts...)
	})
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (c *Client) SwitchEntity(ctx context.Context, from, to, reason string) (*memoryv1.SwitchEntityResponse, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	return c.memory.SwitchEntity(ctx, &memoryv1.SwitchEntityRequest{From: from, To: to, Reason: reason})
}

// Recall checks text for a natural-recall trigger. The server applies a
// cooldown, so a surfaced prompt is not repeated immediately.
func (c *Client) Recall(ctx context.Context, entityID, text string) (string, bool, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	resp, err := c.memory.Recall(ctx, &memoryv1.RecallRequest{EntityID: entityID, Text: text})
	if err != nil {
		return "", false, err
	}
	return resp.Prompt, resp.Surfaced, nil
}

// Promote promotes the entry id, or every eligible entry when id is empty.
func (c *Client) Promote(ctx context.Context, entityID, id string) (*memoryv1.PromoteResponse, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	return c.memory.Promote(ctx, &memoryv1.PromoteRequest{EntityID: entityID, ID: id})
}

func (c *Client) Stats(ctx context.Context) (*memoryv1.StatsResponse, error) {
	return withRetry(c, ctx, func(ctx context.Context, opts ...grpc.CallOption) (*memoryv1.StatsResponse, error) {
		ctx, cancel := c.callContext(ctx)
		defer cancel()
		return c.memory.Stats(ctx, &memoryv1.StatsRequest{}, opts...)
	})
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.opts == nil || c.opts.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.opts.Timeout)
}
