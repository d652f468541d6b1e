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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yorkie-team/docsync/client"
	"github.com/yorkie-team/docsync/engine"
	"github.com/yorkie-team/docsync/engine/profiling"
	"github.com/yorkie-team/docsync/engine/profiling/prometheus"
	"github.com/yorkie-team/docsync/engine/remote/memserver"
	"github.com/yorkie-team/docsync/engine/syncengine"
	"github.com/yorkie-team/docsync/engine/view"
	"github.com/yorkie-team/docsync/internal/validation"
	"github.com/yorkie-team/docsync/pkg/document/mutation"
	"github.com/yorkie-team/docsync/pkg/query"
)

var (
	rpcAddr       string
	collection    string
	docCount      int
	offline       bool
	simTimeout    time.Duration
	profilingPort int
)

// snapshotRow is a document of the final snapshot.
type snapshotRow struct {
	Key     string         `json:"key" yaml:"key"`
	Version string         `json:"version" yaml:"version"`
	Pending bool           `json:"pending" yaml:"pending"`
	Data    map[string]any `json:"data" yaml:"data"`
}

func newSimulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Write documents with one client and watch them arrive at another",
		Long: `Simulate runs a writer and a watcher client against the backend. The
writer optionally goes offline while writing, so that its writes are queued
and sent once it reconnects. Without --rpc-addr both clients share an
in-process backend.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := viper.GetString("output")
			if err := validateOutput(output); err != nil {
				return err
			}
			if err := validation.ValidateValue(collection, "required,path_segment"); err != nil {
				return fmt.Errorf("--collection: %w", err)
			}
			if docCount <= 0 {
				return fmt.Errorf("--docs must be positive, given %d", docCount)
			}

			conf, err := loadConfig()
			if err != nil {
				return err
			}
			if profilingPort > 0 {
				conf.Profiling = &profiling.Config{Port: profilingPort, EnablePprof: true}
			}

			metrics, err := prometheus.NewMetrics()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), simTimeout)
			defer cancel()

			var server *memserver.Server
			if rpcAddr == "" {
				server = memserver.New()
			}
			newClient := func(key string, conf *engine.Config, metrics *prometheus.Metrics) (*client.Client, error) {
				opts := []client.Option{
					client.WithKey(key),
					client.WithConfig(conf),
					client.WithMetrics(metrics),
				}
				if server != nil {
					opts = append(opts, client.WithConnection(server))
				}
				return client.New(rpcAddr, opts...)
			}

			writer, err := newClient("writer", conf, metrics)
			if err != nil {
				return err
			}
			defer func() { _ = writer.Close() }()

			// Only the writer serves the profiles.
			watcherConf := *conf
			watcherConf.Profiling = nil
			watcher, err := newClient("watcher", &watcherConf, nil)
			if err != nil {
				return err
			}
			defer func() { _ = watcher.Close() }()

			if err := writer.Activate(ctx); err != nil {
				return err
			}
			if err := watcher.Activate(ctx); err != nil {
				return err
			}

			snapshot, err := simulate(ctx, cmd, writer, watcher)
			if err != nil {
				return err
			}
			return printSnapshot(cmd, output, snapshot)
		},
	}
}

// simulate writes the documents and returns the first snapshot of the
// watcher that shows all of them from the server.
func simulate(ctx context.Context, cmd *cobra.Command, writer, watcher *client.Client) (*view.Snapshot, error) {
	rch, err := watcher.Watch(ctx, query.NewCollectionQuery(collection), syncengine.ListenOptions{
		IncludeMetadataChanges: true,
	})
	if err != nil {
		return nil, err
	}

	if offline {
		if err := writer.DisableNetwork(ctx); err != nil {
			return nil, err
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, docCount)
	for i := 0; i < docCount; i++ {
		i := i
		path :=fmt.Sprintf("%s/doc-%03d", collection, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- writer.Set(ctx, path, map[string]any{
				"index":     i,
				"writtenBy": writer.Key(),
				"updatedAt": mutation.ServerTimestamp(),
			})
		}()
	}

	if offline {
		cached, err := writer.Query(ctx, query.NewCollectionQuery(collection), client.SourceCache)
		if err != nil {
			return nil, err
		}
		cmd.Printf("writer is offline with %d documents pending\n", cached.MutatedKeys.Len())
		if err := writer.EnableNetwork(ctx); err != nil {
			return nil, err
		}
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return nil, err
		}
	}

	for resp := range rch {
		if resp.Err != nil {
			return nil, resp.Err
		}
		if !resp.Snapshot.FromCache && resp.Snapshot.Documents.Len() >= docCount {
			return resp.Snapshot, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("wait for %d documents: %w", docCount, err)
	}
	return nil, errors.New("watch closed before the documents arrived")
}

func printSnapshot(cmd *cobra.Command, output string, snapshot *view.Snapshot) error {
	rows := make([]snapshotRow, 0, snapshot.Documents.Len())
	for _, doc := range snapshot.Documents.Documents() {
		rows = append(rows, snapshotRow{
			Key:     doc.Key().String(),
			Version: doc.Version().String(),
			Pending: doc.HasPendingWrites(),
			Data:    doc.Data(),
		})
	}

	if output != "" {
		return printStructured(cmd, output, rows)
	}

	tw := table.NewWriter()
	tw.Style().Options.DrawBorder = false
	tw.Style().Options.SeparateColumns = false
	tw.Style().Options.SeparateFooter = false
	tw.Style().Options.SeparateHeader = false
	tw.Style().Options.SeparateRows = false
	tw.AppendHeader(table.Row{"KEY", "VERSION", "PENDING", "DATA"})
	for _, row := range rows {
		data, err := json.Marshal(row.Data)
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
		tw.AppendRow(table.Row{row.Key, row.Version, row.Pending, string(data)})
	}
	cmd.Printf("%s\n", tw.Render())
	return nil
}

func init() {
	cmd := newSimulateCmd()
	cmd.Flags().StringVar(
		&rpcAddr,
		"rpc-addr",
		"",
		"Address of the backend. Empty runs an in-process backend",
	)
	cmd.Flags().StringVar(
		&collection,
		"collection",
		"rooms",
		"Collection the documents are written to",
	)
	cmd.Flags().IntVar(
		&docCount,
		"docs",
		10,
		"Number of documents to write",
	)
	cmd.Flags().BoolVar(
		&offline,
		"offline",
		false,
		"Write while the writer is offline",
	)
	cmd.Flags().DurationVar(
		&simTimeout,
		"timeout",
		30*time.Second,
		"Time limit of the simulation",
	)
	cmd.Flags().IntVar(
		&profilingPort,
		"profiling-port",
		0,
		"Port of the metrics and pprof server of the writer. 0 disables it",
	)

	rootCmd.AddCommand(cmd)
}
