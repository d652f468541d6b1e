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

package client

import (
	"go.uber.org/zap"

	"github.com/yorkie-team/docsync/engine"
	"github.com/yorkie-team/docsync/engine/auth"
	"github.com/yorkie-team/docsync/engine/profiling/prometheus"
	"github.com/yorkie-team/docsync/engine/remote"
)

// Option configures Options.
type Option func(*Options)

// Options configures how we set up the client.
type Options struct {
	// Key is the key of the client. It is used to identify the client.
	Key string

	// Token is the token of the client. Each stream is authenticated with
	// this token.
	Token string

	// Credentials provides the tokens when they are issued by the
	// application at runtime. It takes precedence over Token.
	Credentials auth.CredentialsProvider

	// CertFile is the path to the certificate file.
	CertFile string

	// ServerNameOverride is the server name override.
	ServerNameOverride string

	// Config is the configuration of the engine.
	Config *engine.Config

	// Connection replaces the connection to the backend.
	Connection remote.Connection

	// Metrics is the metrics of the engine.
	Metrics *prometheus.Metrics

	// Logger is the Logger of the client.
	Logger *zap.Logger
}

// WithKey configures the key of the client.
func WithKey(key string) Option {
	return func(o *Options) { o.Key = key }
}

// WithToken configures the token of the client.
func WithToken(token string) Option {
	return func(o *Options) { o.Token = token }
}

// WithCredentials configures the credentials provider of the client.
func WithCredentials(creds auth.CredentialsProvider) Option {
	return func(o *Options) { o.Credentials = creds }
}

// WithCertFile configures the certificate file of the client.
func WithCertFile(certFile string) Option {
	return func(o *Options) { o.CertFile = certFile }
}

// WithServerNameOverride configures the server name override of the client.
func WithServerNameOverride(serverNameOverride string) Option {
	return func(o *Options) { o.ServerNameOverride = serverNameOverride }
}

// WithConfig configures the engine of the client.
func WithConfig(conf *engine.Config) Option {
	return func(o *Options) { o.Config = conf }
}

// WithConnection configures the connection to the backend.
func WithConnection(conn remote.Connection) Option {
	return func(o *Options) { o.Connection = conn }
}

// WithMetrics configures the metrics of the client.
func WithMetrics(metrics *prometheus.Metrics) Option {
	return func(o *Options) { o.Metrics = metrics }
}

// WithLogger configures the Logger of the client.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}
