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

package profiling

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yorkie-team/docsync/engine/logging"
	"github.com/yorkie-team/docsync/engine/profiling/prometheus"
)

const (
	metricsPath = "/metrics"
	pprofPath   = "/debug/pprof"

	shutdownTimeout = 5 * time.Second
)

// Server serves metrics and pprof information of the engine.
type Server struct {
	conf       *Config
	logger     logging.Logger
	listener   net.Listener
	httpServer *http.Server
}

// NewServer creates an instance of Server.
func NewServer(conf *Config, metrics *prometheus.Metrics) *Server {
	mux := http.NewServeMux()
	if conf.EnablePprof {
		mux.HandleFunc(pprofPath+"/", pprof.Index)
		mux.HandleFunc(pprofPath+"/cmdline", pprof.Cmdline)
		mux.HandleFunc(pprofPath+"/profile", pprof.Profile)
		mux.HandleFunc(pprofPath+"/symbol", pprof.Symbol)
		mux.HandleFunc(pprofPath+"/trace", pprof.Trace)
	}
	if metrics != nil {
		mux.Handle(metricsPath, promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	}

	return &Server{
		conf:   conf,
		logger: logging.New("profiling"),
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start binds the port and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.conf.Port))
	if err != nil {
		return fmt.Errorf("listen profiling port %d: %w", s.conf.Port, err)
	}
	s.listener = listener

	go func() {
		s.logger.Infof("serving profiling on %s", listener.Addr())
		if err := s.httpServer.Serve(listener); err != http.ErrServerClosed {
			s.logger.Errorf("profiling serve: %v", err)
		}
	}()
	return nil
}

// Addr returns the address the server listens on, once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server. A graceful shutdown waits for in-flight
// requests.
func (s *Server) Shutdown(graceful bool) {
	if !graceful {
		if err := s.httpServer.Close(); err != nil {
			s.logger.Errorf("profiling close: %v", err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Errorf("profiling shutdown: %v", err)
	}
}
