// Copyright 2025 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"time"

	"github.com/cloudwego/promptpipe/llm/log"
)

// EventType enumerates the engine's observable moments.
type EventType string

const (
	EventStepStarted     EventType = "step_started"
	EventStepCompleted   EventType = "step_completed"
	EventStepFailed      EventType = "step_failed"
	EventStepRetried     EventType = "step_retried"
	EventStepSkipped     EventType = "step_skipped"
	EventGroupCommitted  EventType = "group_committed"
	EventCheckpointSaved EventType = "checkpoint_saved"
	EventRunCompleted    EventType = "run_completed"
	EventRunFailed       EventType = "run_failed"
)

// Event is one engine occurrence. Formatting and printing belong to the
// consumer.
type Event struct {
	Type    EventType
	RunID   string
	Step    string
	Group   string
	Attempt int
	Err     error
	Time    time.Time
}

// Observer receives engine events. Implementations must be safe for
// concurrent calls from parallel group members.
type Observer interface {
	OnEvent(ev Event)
}

// NoopObserver discards all events.
type NoopObserver struct{}

func (NoopObserver) OnEvent(Event) {}

// LoggingObserver writes events through the engine logger.
type LoggingObserver struct{}

func (LoggingObserver) OnEvent(ev Event) {
	switch ev.Type {
	case EventStepFailed, EventRunFailed:
		log.Error("run %s %s step=%s err=%v", ev.RunID, ev.Type, ev.Step, ev.Err)
	case EventStepRetried:
		log.Info("run %s retrying step=%s attempt=%d err=%v", ev.RunID, ev.Step, ev.Attempt, ev.Err)
	default:
		log.Info("run %s %s step=%s", ev.RunID, ev.Type, ev.Step)
	}
}

// CompositeObserver fans events out to several observers.
type CompositeObserver []Observer

func (c CompositeObserver) OnEvent(ev Event) {
	for _, o := range c {
		o.OnEvent(ev)
	}
}

func emit(o Observer, ev Event) {
	if o == nil {
		return
	}
	ev.Time = time.Now()
	o.OnEvent(ev)
}
