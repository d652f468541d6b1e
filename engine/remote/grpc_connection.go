/*
 * Copyright 2025 The Yorkie Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package remote

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"io"

	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine/auth"
	"github.com/yorkie-team/docsync/engine/profiling/prometheus"
	"github.com/yorkie-team/docsync/pkg/errors"
)

const (
	// ListenMethod is the full name of the listen method of the backend.
	ListenMethod = "/docsync.v1.Datastore/Listen"

	// WriteMethod is the full name of the write method of the backend.
	WriteMethod = "/docsync.v1.Datastore/Write"

	authorizationKey = "authorization"
)

var bidiStreamDesc = &grpc.StreamDesc{ServerStreams: true, ClientStreams: true}

// jsonCodec encodes the frames as JSON.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "json"
}

// GRPCOptions configures a GRPCConnection.
type GRPCOptions struct {
	// CertFile is the path to the certificate file. Without it the
	// connection is not encrypted.
	CertFile string

	// ServerNameOverride overrides the server name of the certificate.
	ServerNameOverride string

	// Metrics, if set, measures the streams.
	Metrics *prometheus.Metrics
}

// GRPCConnection is a Connection to a backend over gRPC.
type GRPCConnection struct {
	conn *grpc.ClientConn
}

// NewGRPCConnection dials the backend at the given address.
func NewGRPCConnection(addr string, opts GRPCOptions) (*GRPCConnection, error) {
	transport := grpc.WithTransportCredentials(insecure.NewCredentials())
	if opts.CertFile != "" {
		creds, err := credentials.NewClientTLSFromFile(opts.CertFile, opts.ServerNameOverride)
		if err != nil {
			return nil, fmt.Errorf("load certificate %s: %w", opts.CertFile, err)
		}
		transport = grpc.WithTransportCredentials(creds)
	}

	var interceptors []grpc.StreamClientInterceptor
	if opts.Metrics != nil {
		interceptors = append(interceptors, opts.Metrics.GRPCClientMetrics().StreamClientInterceptor())
	}
	interceptors = append(interceptors, statusStreamInterceptor)

	conn, err := grpc.Dial(
		addr,
		transport,
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
		grpc.WithStreamInterceptor(grpcmiddleware.ChainStreamClient(interceptors...)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	return &GRPCConnection{conn: conn}, nil
}

// OpenListenStream opens the listen stream.
func (c *GRPCConnection) OpenListenStream(ctx context.Context, token *auth.Token) (ListenStream, error) {
	return openGRPCStream[types.ListenRequest, types.ListenResponse](ctx, c.conn, ListenMethod, token)
}

// OpenWriteStream opens the write stream.
func (c *GRPCConnection) OpenWriteStream(ctx context.Context, token *auth.Token) (WriteStream, error) {
	return openGRPCStream[types.WriteRequest, types.WriteResponse](ctx, c.conn, WriteMethod, token)
}

// Close closes the connection.
func (c *GRPCConnection) Close() error {
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}

func openGRPCStream[Req, Resp any](
	ctx context.Context,
	conn *grpc.ClientConn,
	method string,
	token *auth.Token,
) (Stream[Req, Resp], error) {
	if token != nil && token.Value != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, authorizationKey, "Bearer "+token.Value)
	}

	stream, err := conn.NewStream(ctx, bidiStreamDesc, method)
	if err != nil {
		return nil, toStatusError(err)
	}
	return &grpcStream[Req, Resp]{stream: stream}, nil
}

type grpcStream[Req, Resp any] struct {
	stream grpc.ClientStream
}

func (s *grpcStream[Req, Resp]) Send(req *Req) error {
	return toStatusError(s.stream.SendMsg(req))
}

func (s *grpcStream[Req, Resp]) Recv() (*Resp, error) {
	resp := new(Resp)
	if err := s.stream.RecvMsg(resp); err != nil {
		return nil, toStatusError(err)
	}
	return resp, nil
}

func (s *grpcStream[Req, Resp]) CloseSend() error {
	return s.stream.CloseSend()
}

// statusStreamInterceptor converts the errors of opening a stream.
func statusStreamInterceptor(
	ctx context.Context,
	desc *grpc.StreamDesc,
	cc *grpc.ClientConn,
	method string,
	streamer grpc.Streamer,
	opts ...grpc.CallOption,
) (grpc.ClientStream, error) {
	stream, err := streamer(ctx, desc, cc, method, opts...)
	if err != nil {
		return nil, toStatusError(err)
	}
	return stream, nil
}

// toStatusError converts a gRPC error into a status error. A stream ended
// by the server is unavailable.
func toStatusError(err error) error {
	if err == nil {
		return nil
	}
	if goerrors.Is(err, io.EOF) {
		return errors.Unavailable("stream closed by the backend")
	}

	var statusErr errors.StatusError
	if goerrors.As(err, &statusErr) {
		return err
	}

	st, ok := status.FromError(err)
	if !ok {
		return errors.Wrap(err, errors.ErrCodeUnknown)
	}
	if st.Code() == codes.OK {
		return nil
	}
	return errors.New(errors.StatusCode(st.Code()), st.Message())
}
