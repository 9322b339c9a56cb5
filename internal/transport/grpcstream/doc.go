// Package grpcstream implements transport.Opener over a bidirectional gRPC
// stream. Records are sent as protowire-framed append messages; the remote
// side acknowledges each accepted record by echoing its sequence number on
// the same stream. A background receive loop dispatches acknowledgments to
// the bound AckHandler.
package grpcstream
