package grpcstream

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rzbill/flume/internal/transport"
	logpkg "github.com/rzbill/flume/pkg/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const appendMethod = "/flume.v1.Forwarder/Append"

var appendStreamDesc = grpc.StreamDesc{
	StreamName:    "Append",
	ClientStreams: true,
	ServerStreams: true,
}

// Metadata keys the remote reads during stream establishment.
const (
	mdTable        = "flume-table"
	mdDescriptor   = "flume-descriptor"
	mdClientID     = "flume-client-id"
	mdClientSecret = "flume-client-secret"
	mdMaxInflight  = "flume-max-inflight"
)

// Opener dials destinations and opens append streams over gRPC.
type Opener struct {
	logger   logpkg.Logger
	dialOpts []grpc.DialOption
}

// NewOpener returns an Opener. Extra dial options are appended after the
// defaults, so tests can inject a bufconn dialer.
func NewOpener(logger logpkg.Logger, opts ...grpc.DialOption) *Opener {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &Opener{logger: logger.WithComponent("grpcstream"), dialOpts: opts}
}

// Open dials cfg.Endpoint and establishes one append stream. It blocks until
// the remote confirms the stream with response headers, so a rejected table
// or bad credentials surface here rather than on the first send.
func (o *Opener) Open(ctx context.Context, cfg transport.DestinationConfig, acks transport.AckHandler) (transport.RemoteStream, error) {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{})),
	}, o.dialOpts...)
	conn, err := grpc.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, classify(fmt.Errorf("dial %s: %w", cfg.Endpoint, err))
	}

	// The stream context must outlive the open call; callers may abandon
	// Open while the stream keeps serving later requests.
	streamCtx, cancel := context.WithCancel(context.Background())
	streamCtx = metadata.AppendToOutgoingContext(streamCtx,
		mdTable, cfg.Table,
		mdDescriptor, cfg.Descriptor,
		mdClientID, cfg.ClientID,
		mdClientSecret, cfg.ClientSecret,
		mdMaxInflight, strconv.Itoa(cfg.MaxInflight),
	)
	cs, err := conn.NewStream(streamCtx, &appendStreamDesc, appendMethod)
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, classify(fmt.Errorf("open stream to %s: %w", cfg.Endpoint, err))
	}

	// Header() blocks until establishment; honor the caller's ctx here.
	hdrErr := make(chan error, 1)
	go func() {
		_, err := cs.Header()
		hdrErr <- err
	}()
	select {
	case err = <-hdrErr:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, classify(fmt.Errorf("establish stream for %q: %w", cfg.Key, err))
	}

	s := &remoteStream{
		key:    cfg.Key,
		conn:   conn,
		cs:     cs,
		cancel: cancel,
		acks:   acks,
		logger: o.logger.WithField("destination", cfg.Key),
		notify: make(chan struct{}),
	}
	go s.recvLoop()
	o.logger.Info("stream established", logpkg.Str("destination", cfg.Key), logpkg.Str("table", cfg.Table))
	return s, nil
}

// classify maps gRPC status codes onto transport error classes. Codes that
// indicate a misconfigured destination will not clear on retry.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied, codes.InvalidArgument,
		codes.NotFound, codes.FailedPrecondition, codes.Unimplemented:
		return transport.Fatal(err)
	}
	return transport.Retriable(err)
}
