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

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine/asyncqueue"
	"github.com/yorkie-team/docsync/engine/auth"
	"github.com/yorkie-team/docsync/pkg/document/time"
)

// watchStreamListener receives the events of the watch stream.
type watchStreamListener interface {
	onWatchStreamOpen() error
	onWatchStreamChange(change *WatchChange, snapshotVersion time.Version) error
	onWatchStreamClose(err error) error
}

// watchStream is the listen stream. Targets are added with watch and
// removed with unwatch.
type watchStream struct {
	*persistentStream[types.ListenRequest, types.ListenResponse]
	listener watchStreamListener
}

func newWatchStream(
	opts streamOptions,
	queue *asyncqueue.Queue,
	creds auth.CredentialsProvider,
	conn Connection,
	listener watchStreamListener,
) *watchStream {
	s := &watchStream{listener: listener}
	opts.name = "watch"
	opts.idleTimerID = asyncqueue.TimerListenStreamIdle
	opts.backoffTimerID = asyncqueue.TimerListenStreamConnectionBackoff
	s.persistentStream = newPersistentStream[types.ListenRequest, types.ListenResponse](
		opts,
		queue,
		creds,
		func(ctx context.Context, token *auth.Token) (ListenStream, error) {
			return conn.OpenListenStream(ctx, token)
		},
		s,
	)
	return s
}

func (s *watchStream) onOpen() error {
	return s.listener.onWatchStreamOpen()
}

func (s *watchStream) onMessage(resp *types.ListenResponse) error {
	s.backoff.Reset()

	change, err := NewWatchChange(resp)
	if err != nil {
		return err
	}
	return s.listener.onWatchStreamChange(change, snapshotVersionOf(resp))
}

func (s *watchStream) onClose(err error) error {
	return s.listener.onWatchStreamClose(err)
}

// watch registers the target on the stream.
func (s *watchStream) watch(data *types.TargetData) error {
	req := &types.TargetRequest{
		TargetID:      data.TargetID,
		Target:        data.Target,
		ExpectedCount: data.ExpectedCount,
	}
	if len(data.ResumeToken) > 0 {
		req.ResumeToken = data.ResumeToken
	} else if !data.SnapshotVersion.IsMin() {
		req.ReadTime = data.SnapshotVersion
	}

	var labels map[string]string
	if data.Purpose != types.PurposeListen {
		labels = map[string]string{"purpose": data.Purpose.String()}
	}

	return s.send(&types.ListenRequest{AddTarget: req, Labels: labels})
}

// unwatch removes the target from the stream.
func (s *watchStream) unwatch(targetID types.TargetID) error {
	return s.send(&types.ListenRequest{RemoveTarget: targetID})
}

// snapshotVersionOf returns the version of the consistent snapshot the
// frame marks, or the min version if the frame is not such a boundary. Only
// a target change that applies to every target and carries a read time is
// a boundary.
func snapshotVersionOf(resp *types.ListenResponse) time.Version {
	change := resp.TargetChange
	if change == nil || len(change.TargetIDs) > 0 {
		return time.MinVersion
	}
	return change.ReadTime
}
