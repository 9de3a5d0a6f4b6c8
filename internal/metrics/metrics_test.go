// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordStoreOperation(t *testing.T) {
	before := testutil.ToFloat64(StoreOperationErrors.WithLabelValues("write", "metrics_test"))

	RecordStoreOperation("write", "metrics_test", 2*time.Millisecond, nil)
	RecordStoreOperation("write", "metrics_test", 3*time.Millisecond, errors.New("conflict"))

	after := testutil.ToFloat64(StoreOperationErrors.WithLabelValues("write", "metrics_test"))
	if after-before != 1 {
		t.Errorf("expected one error recorded, got %v", after-before)
	}
}

func TestRecordSyncPush(t *testing.T) {
	c := SyncPushes.WithLabelValues("metrics_test", "success")
	before := testutil.ToFloat64(c)

	RecordSyncPush("metrics_test", "success", 3)
	RecordSyncPush("metrics_test", "success", 0)

	if got := testutil.ToFloat64(c) - before; got != 3 {
		t.Errorf("expected +3, got %v", got)
	}
}

func TestRecordSyncPull(t *testing.T) {
	ok := SyncPulls.WithLabelValues("metrics_test", "success")
	fail := SyncPulls.WithLabelValues("metrics_test", "failure")
	okBefore, failBefore := testutil.ToFloat64(ok), testutil.ToFloat64(fail)

	RecordSyncPull("metrics_test", nil)
	RecordSyncPull("metrics_test", errors.New("offline"))

	if testutil.ToFloat64(ok)-okBefore != 1 || testutil.ToFloat64(fail)-failBefore != 1 {
		t.Error("expected one success and one failure")
	}
}

func TestTrackActiveRequest(t *testing.T) {
	before := testutil.ToFloat64(APIActiveRequests)
	TrackActiveRequest(true)
	if testutil.ToFloat64(APIActiveRequests) != before+1 {
		t.Error("gauge should increase")
	}
	TrackActiveRequest(false)
	if testutil.ToFloat64(APIActiveRequests) != before {
		t.Error("gauge should return to previous value")
	}
}

func TestRecordAwardEvaluation(t *testing.T) {
	c := AwardEvaluations.WithLabelValues("granted")
	before := testutil.ToFloat64(c)
	RecordAwardEvaluation("granted", 10*time.Millisecond)
	if testutil.ToFloat64(c)-before != 1 {
		t.Error("expected granted outcome counted")
	}
}
