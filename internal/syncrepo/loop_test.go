// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package syncrepo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeSyncer struct {
	entity  string
	pushErr error
	pullErr error

	mu     sync.Mutex
	calls  []string
	cycles chan struct{}
}

func (f *fakeSyncer) Entity() string { return f.entity }

func (f *fakeSyncer) PushUnsynced(context.Context) (PushSummary, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "push")
	f.mu.Unlock()
	return PushSummary{Pushed: 1}, f.pushErr
}

func (f *fakeSyncer) Pull(context.Context) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "pull")
	f.mu.Unlock()
	if f.cycles != nil {
		select {
		case f.cycles <- struct{}{}:
		default:
		}
	}
	if f.pullErr != nil {
		return "", f.pullErr
	}
	return "tok", nil
}

func TestRunCycle_PushesThenPullsEachEntity(t *testing.T) {
	a := &fakeSyncer{entity: "a"}
	b := &fakeSyncer{entity: "b"}
	l := NewLoop(LoopConfig{Interval: time.Hour}, a, b)

	report := l.RunCycle(context.Background())
	if report.Unreachable {
		t.Error("healthy cycle reported unreachable")
	}
	if len(report.Entities) != 2 || report.Entities[0].Entity != "a" || report.Entities[1].Entity != "b" {
		t.Fatalf("entities = %+v", report.Entities)
	}
	if report.Entities[0].Token != "tok" || report.Entities[0].Push.Pushed != 1 {
		t.Errorf("entity report = %+v", report.Entities[0])
	}
	if fmt.Sprint(a.calls) != "[push pull]" {
		t.Errorf("calls = %v, want [push pull]", a.calls)
	}
	if l.LastReport() == nil || l.LastReport().ID != report.ID {
		t.Error("LastReport() should return the latest cycle")
	}
}

func TestRunCycle_NotifiesHooks(t *testing.T) {
	l := NewLoop(LoopConfig{Interval: time.Hour}, &fakeSyncer{entity: "a"})
	var seen []string
	l.OnCycle(func(r CycleReport) { seen = append(seen, r.ID) })

	first := l.RunCycle(context.Background())
	second := l.RunCycle(context.Background())
	if len(seen) != 2 || seen[0] != first.ID || seen[1] != second.ID {
		t.Errorf("hook saw %v, want [%s %s]", seen, first.ID, second.ID)
	}
}

func TestRunCycle_TransportErrorMarksUnreachable(t *testing.T) {
	s := &fakeSyncer{entity: "a", pushErr: fmt.Errorf("%w: offline", ErrTransport)}
	l := NewLoop(LoopConfig{Interval: time.Hour}, s)

	report := l.RunCycle(context.Background())
	if !report.Unreachable {
		t.Error("expected unreachable")
	}
	if report.Entities[0].PushError == "" {
		t.Error("push error not reported")
	}
	if len(s.calls) != 2 {
		t.Errorf("pull should still run after a failed push, calls = %v", s.calls)
	}
}

func TestRunCycle_RejectedPullIsNotUnreachable(t *testing.T) {
	s := &fakeSyncer{entity: "a", pullErr: ErrPullRejected}
	report := NewLoop(LoopConfig{}, s).RunCycle(context.Background())
	if report.Unreachable {
		t.Error("a rejected pull reached the server")
	}
	if !errors.Is(s.pullErr, ErrPullRejected) || report.Entities[0].PullError == "" {
		t.Error("pull error not reported")
	}
}

func TestLoop_TriggerRunsCycle(t *testing.T) {
	s := &fakeSyncer{entity: "a", cycles: make(chan struct{}, 1)}
	l := NewLoop(LoopConfig{Interval: time.Hour}, s)

	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer l.Stop()
	if !l.IsRunning() {
		t.Fatal("loop should be running")
	}

	l.Trigger()
	select {
	case <-s.cycles:
	case <-time.After(2 * time.Second):
		t.Fatal("triggered cycle did not run")
	}
}

func TestLoop_StopIsIdempotent(t *testing.T) {
	l := NewLoop(LoopConfig{Interval: time.Hour})
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	l.Stop()
	l.Stop()
	if l.IsRunning() {
		t.Error("loop still running after Stop")
	}

	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !l.IsRunning() {
		t.Error("loop should restart after Stop")
	}
	l.Stop()
}

func TestNewLoop_Defaults(t *testing.T) {
	l := NewLoop(LoopConfig{Interval: time.Minute, MaxBackoff: time.Second})
	if l.config.MaxBackoff != time.Minute {
		t.Errorf("MaxBackoff = %v, want clamped to interval", l.config.MaxBackoff)
	}
	if NewLoop(LoopConfig{}).config.Interval != time.Minute {
		t.Error("zero interval should default to one minute")
	}
}

func TestLoop_BackOffGrowsToCeiling(t *testing.T) {
	l := NewLoop(LoopConfig{Interval: time.Second, MaxBackoff: 8 * time.Second})
	b := l.newBackOff()

	first := b.NextBackOff()
	if first < 900*time.Millisecond || first > 1100*time.Millisecond {
		t.Errorf("first wait = %v, want about 1s", first)
	}
	var last time.Duration
	for i := 0; i < 10; i++ {
		last = b.NextBackOff()
	}
	if last < 7200*time.Millisecond || last > 8800*time.Millisecond {
		t.Errorf("wait after repeated failures = %v, want about 8s", last)
	}

	b.Reset()
	if again := b.NextBackOff(); again > 1100*time.Millisecond {
		t.Errorf("wait after reset = %v, want about 1s", again)
	}
}
