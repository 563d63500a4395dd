// Package remote implements the client side of a remote execution
// service's output-materialization engine: given an ActionResult and a
// spawn's declared outputs, it reconstructs the local file tree under a
// materialization-mode policy, or registers metadata in lieu of real files.
package remote

import (
	"context"
	"fmt"
	"time"

	sdkclient "github.com/bazelbuild/remote-apis-sdks/go/pkg/client"
	"github.com/grpc-ecosystem/go-grpc-middleware/retry"
	"google.golang.org/grpc"

	"github.com/please-build/rexec/src/cli/logging"
)

var log = logging.Log

// dialTimeout bounds how long we wait to establish the initial connection.
const dialTimeout = 5 * time.Second

// maxRetries is the number of times a unary RPC is retried before giving up.
const maxRetries = 3

// maxMsgSize is set arbitrarily large so it is never the limiting factor on
// a single CAS read or batch call.
const maxMsgSize = 419430400

// Config carries everything needed to dial the remote CAS/execution
// service. Option parsing is out of scope for this package; callers are
// expected to have already resolved these from their own configuration
// layer.
type Config struct {
	// URL is the execution service address.
	URL string
	// CASURL is the CAS/bytestream service address, if different from URL.
	CASURL string
	// Instance is the REAPI instance name.
	Instance string
	// Secure requires transport credentials rather than plaintext.
	Secure bool
	// TokenFile names a file containing a bearer token. It is carried in
	// the configuration but not read by this package: no token is attached
	// to RPCs.
	TokenFile string
	// PrometheusGatewayURL, if set, receives pushed failure counters.
	PrometheusGatewayURL string
	// CacheDir, if set, enables a local read-through cache for blob reads
	// at this path.
	CacheDir string
}

// Client is the ambient gRPC connection to the remote service: dialing,
// capability negotiation and instrumentation. Its BlobStore, returned by
// Store, delegates to the underlying SDK client.
type Client struct {
	Config  Config
	sdk     *sdkclient.Client
	store   BlobStore
	stats   *statsHandler
	metrics *remoteMetrics
}

// NewClient dials the remote service described by cfg. Dialing happens
// eagerly but capability negotiation is handled by the SDK client itself.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	c := &Client{Config: cfg}
	c.stats = newStatsHandler(c)
	c.metrics = newRemoteMetrics()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	sdk, err := sdkclient.NewClient(dialCtx, cfg.Instance, c.dialParams(), sdkclient.CASConcurrency(50))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to remote execution service: %w", err)
	}
	c.sdk = sdk
	var store BlobStore = newRemoteStore(sdk)
	if cfg.CacheDir != "" {
		store = newCachingStore(store, cfg.CacheDir)
	}
	c.store = store
	log.Debug("remote execution client initialised for instance %q", cfg.Instance)
	return c, nil
}

// Store returns the BlobStore backed by this connection.
func (c *Client) Store() BlobStore {
	return c.store
}

func (c *Client) dialOpts() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithStatsHandler(c.stats),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxMsgSize)),
		grpc.WithUnaryInterceptor(grpc_retry.UnaryClientInterceptor(grpc_retry.WithMax(maxRetries))),
	}
}
