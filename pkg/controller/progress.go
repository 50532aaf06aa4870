package controller

import (
	"github.com/doingodswork/shadowlands-core/pkg/extraction"
	"github.com/doingodswork/shadowlands-core/pkg/model"
)

// ProgressSink is the engine's progress sink interface, re-exported so the
// controller's attempt runner and its tests can name it directly.
type ProgressSink = extraction.ProgressSink

// ProgressChannelCapacity is the bounded capacity per session, per spec §5.
const ProgressChannelCapacity = 16

// ProgressEvent is one stage-entry notification.
type ProgressEvent struct {
	SessionID string
	Stage     model.Stage
	Percent   int
}

// ChannelSink is a bounded-channel ProgressSink: slow consumers drop oldest
// events rather than blocking the producer, per spec §5's backpressure
// policy.
type ChannelSink struct {
	sessionID string
	ch        chan ProgressEvent
}

// NewChannelSink builds a sink backed by a bounded channel.
func NewChannelSink(sessionID string) *ChannelSink {
	return &ChannelSink{sessionID: sessionID, ch: make(chan ProgressEvent, ProgressChannelCapacity)}
}

// Events returns the read side of the channel for the HTTP handler to
// consume (e.g. as server-sent events), per spec §9.
func (s *ChannelSink) Events() <-chan ProgressEvent {
	return s.ch
}

// Close closes the channel once the session is done.
func (s *ChannelSink) Close() {
	close(s.ch)
}

// Progress implements extraction.ProgressSink. It drops the oldest queued
// event rather than blocking the producing goroutine when the channel is
// full.
func (s *ChannelSink) Progress(stage model.Stage, percent int) {
	event := ProgressEvent{SessionID: s.sessionID, Stage: stage, Percent: percent}
	for {
		select {
		case s.ch <- event:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}
