package emotion

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/socially/speech-gateway/internal/analysis"
	"github.com/socially/speech-gateway/internal/config"
	"github.com/socially/speech-gateway/internal/observability"
	"github.com/socially/speech-gateway/internal/resilience"
)

const (
	// ServiceName is the gRPC service the emotion engine exposes
	ServiceName = "emotion.v1.EmotionClassifier"
	// ClassifyMethod takes little-endian float32 samples as BytesValue and
	// answers with the label as StringValue
	ClassifyMethod = "/" + ServiceName + "/Classify"
	// SampleRateHeader carries the sample rate of the request audio
	SampleRateHeader = "x-sample-rate"

	breakerName = "emotion"
)

var errNotConnected = errors.New("emotion client is not connected")

// Client talks to the emotion engine over gRPC. One Client is shared by every
// session.
type Client struct {
	config         *config.Config
	dialOptions    []grpc.DialOption
	circuitBreaker *resilience.CircuitBreaker
	retryConfig    *resilience.RetryConfig
	logger         zerolog.Logger

	mu     sync.RWMutex
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// Option configures a Client
type Option func(*Client)

// WithDialOptions appends gRPC dial options, e.g. a custom dialer
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) {
		c.dialOptions = append(c.dialOptions, opts...)
	}
}

// NewClient creates the gRPC channel to the emotion engine. The channel
// connects lazily; use WaitReady to block until the engine answers.
func NewClient(cfg *config.Config, opts ...Option) (*Client, error) {
	c := &Client{
		config: cfg,
		circuitBreaker: resilience.NewCircuitBreaker(
			breakerName,
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
			resilience.WithStateChange(func(name string, from, to resilience.CircuitState) {
				observability.CircuitBreakerTransition(name, int(to), to.String())
			}),
		),
		retryConfig: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		logger: observability.WithComponent("emotion"),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to emotion engine: %w", err)
	}

	return c, nil
}

// connect creates the client channel if it does not exist yet
func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	var opts []grpc.DialOption

	if c.config.EmotionTLSEnabled {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	// Keepalive settings for long-lived connections
	opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             3 * time.Second,
		PermitWithoutStream: true,
	}))
	opts = append(opts, c.dialOptions...)

	conn, err := grpc.NewClient(c.config.EmotionURL, opts...)
	if err != nil {
		return fmt.Errorf("failed to create channel to %s: %w", c.config.EmotionURL, err)
	}

	c.conn = conn
	c.health = healthpb.NewHealthClient(conn)

	c.logger.Info().Str("target", c.config.EmotionURL).Bool("tls", c.config.EmotionTLSEnabled).Msg("Emotion engine channel created")
	return nil
}

// ClassifyEmotion sends the samples to the engine and returns its label.
// Unknown labels are passed through; the dispatcher normalizes them.
func (c *Client) ClassifyEmotion(ctx context.Context, samples []float32, sampleRate int) (analysis.Emotion, error) {
	req := wrapperspb.Bytes(encodeFloat32(samples))
	var label string

	err := c.circuitBreaker.Call(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()

			if conn == nil {
				if err := c.connect(); err != nil {
					return err
				}
				c.mu.RLock()
				conn = c.conn
				c.mu.RUnlock()
			}

			callCtx := ctx
			if c.config.EmotionTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, time.Duration(c.config.EmotionTimeout)*time.Second)
				defer cancel()
			}
			callCtx = metadata.AppendToOutgoingContext(callCtx, SampleRateHeader, strconv.Itoa(sampleRate))

			resp := &wrapperspb.StringValue{}
			if err := conn.Invoke(callCtx, ClassifyMethod, req, resp); err != nil {
				return err
			}
			label = resp.GetValue()
			return nil
		}, c.retryConfig, isRetryableError)
	})
	if err != nil {
		return analysis.EmotionNeutral, fmt.Errorf("emotion classification failed: %w", err)
	}

	return analysis.Emotion(label), nil
}

// HealthCheck asks the engine's standard gRPC health service whether the
// classifier is serving
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	c.mu.RLock()
	health := c.health
	c.mu.RUnlock()

	if health == nil {
		return false, errNotConnected
	}

	resp, err := health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return false, fmt.Errorf("health check failed: %w", err)
	}

	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// WaitReady polls the health service with backoff until the engine is serving
func (c *Client) WaitReady(ctx context.Context, reconnect *resilience.ReconnectConfig) error {
	return resilience.Reconnect(ctx, func(ctx context.Context) error {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		ok, err := c.HealthCheck(probeCtx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("emotion engine is not serving")
		}
		return nil
	}, reconnect, c.logger)
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	c.health = nil
	return err
}

// isRetryableError checks the gRPC status code for transient failures
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errNotConnected) {
		return true
	}

	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return true
	case codes.DeadlineExceeded:
		// only the per-call timeout; the caller's own deadline is final
		return true
	default:
		return false
	}
}

// encodeFloat32 packs samples as little-endian IEEE-754 float32
func encodeFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}
