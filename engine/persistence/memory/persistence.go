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

// Package memory implements the persistence interface using an in-memory
// database.
package memory

import (
	"context"
	"fmt"
	gosync "sync"
	"sync/atomic"

	"github.com/hashicorp/go-memdb"

	"github.com/yorkie-team/docsync/engine/logging"
	"github.com/yorkie-team/docsync/engine/persistence"
)

// Persistence is an in-memory persistence for tests or sessions that do not
// need to outlive the process.
type Persistence struct {
	db      *memdb.MemDB
	logger  logging.Logger
	started atomic.Bool
	inTxn   atomic.Bool

	faultMu  gosync.Mutex
	faults   int
	faultErr error
}

// New returns a new in-memory persistence.
func New() (*Persistence, error) {
	memDB, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("new memdb: %w", err)
	}

	return &Persistence{
		db:     memDB,
		logger: logging.New("persistence"),
	}, nil
}

// Start opens the persistence.
func (p *Persistence) Start() error {
	p.started.Store(true)
	return nil
}

// Shutdown closes the persistence. The data is kept so that a restarted
// engine on the same instance sees it.
func (p *Persistence) Shutdown() error {
	p.started.Store(false)
	return nil
}

// IsStarted returns whether the persistence accepts transactions.
func (p *Persistence) IsStarted() bool {
	return p.started.Load()
}

// InjectFailures makes the next count transactions fail with err before
// running. It simulates transient storage faults.
func (p *Persistence) InjectFailures(count int, err error) {
	p.faultMu.Lock()
	defer p.faultMu.Unlock()
	p.faults = count
	p.faultErr = err
}

func (p *Persistence) nextFault() error {
	p.faultMu.Lock()
	defer p.faultMu.Unlock()
	if p.faults <= 0 {
		return nil
	}
	p.faults--
	return p.faultErr
}

// RunTransaction runs fn in a memdb transaction. Write transactions are
// serialized by memdb and read transactions see a snapshot.
func (p *Persistence) RunTransaction(
	_ context.Context,
	action string,
	mode persistence.Mode,
	fn func(tx persistence.Transaction) error,
) error {
	if !p.IsStarted() {
		return fmt.Errorf("%s: %w", action, persistence.ErrNotStarted)
	}
	if !p.inTxn.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: %w", action, persistence.ErrNestedTransaction)
	}
	defer p.inTxn.Store(false)

	if err := p.nextFault(); err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}

	txn := p.db.Txn(mode == persistence.ReadWrite)
	defer txn.Abort()

	tx := &transaction{txn: txn, mode: mode}
	if err := fn(tx); err != nil {
		p.logger.Debugf("transaction %s aborted: %v", action, err)
		return err
	}

	// NOTE: memdb runs deferred functions of write transactions only.
	txn.Commit()
	for _, f := range tx.readOnlyCommits {
		f()
	}
	return nil
}
