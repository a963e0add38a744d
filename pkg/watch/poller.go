// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package watch provides a polling-based change feed over a single
// comparable state value: a ticker-driven loop with a state-tracking
// map that emits an Event whenever the watched value changes.
package watch

import (
	"context"
	"time"
)

// DefaultPollInterval is the default polling interval for watch operations.
const DefaultPollInterval = 5 * time.Second

// Event describes a detected state transition.
type Event struct {
	PreviousState string
	NewState      string
	EventTime     time.Time
}

// GetStateFunc fetches the current state of the watched entity.
type GetStateFunc func(ctx context.Context) (string, error)

// Poller emits an Event each time GetStateFunc returns a new value.
type Poller struct {
	getState     GetStateFunc
	pollInterval time.Duration
	bufferSize   int
}

// NewPoller creates a new state poller.
func NewPoller(getState GetStateFunc) *Poller {
	return &Poller{
		getState:     getState,
		pollInterval: DefaultPollInterval,
		bufferSize:   16,
	}
}

// WithPollInterval sets a custom poll interval.
func (p *Poller) WithPollInterval(interval time.Duration) *Poller {
	p.pollInterval = interval
	return p
}

// WithBufferSize sets a custom buffer size for the event channel.
func (p *Poller) WithBufferSize(size int) *Poller {
	p.bufferSize = size
	return p
}

// Watch starts polling and returns a channel of state-change events.
// The channel is closed when ctx is canceled.
func (p *Poller) Watch(ctx context.Context) <-chan Event {
	eventChan := make(chan Event, p.bufferSize)
	go p.pollLoop(ctx, eventChan)
	return eventChan
}

func (p *Poller) pollLoop(ctx context.Context, eventChan chan<- Event) {
	defer close(eventChan)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	var (
		state string
		known bool
	)

	poll := func() {
		current, err := p.getState(ctx)
		if err != nil {
			return
		}
		if known && current != state {
			eventChan <- Event{PreviousState: state, NewState: current, EventTime: time.Now()}
		}
		state = current
		known = true
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		}
	}
}
