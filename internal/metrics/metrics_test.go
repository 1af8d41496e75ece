// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/tomtom215/komunikator/internal/models"
)

func TestErrorClass(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{models.NewValidationError("content", "empty"), "validation"},
		{fmt.Errorf("send: %w", models.ErrRecipientUnknown), "recipient_unknown"},
		{models.Unavailable("append", errors.New("io")), "storage_unavailable"},
		{models.ErrNotParticipant, "not_participant"},
		{models.ErrShuttingDown, "shutting_down"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := ErrorClass(tt.err); got != tt.want {
				t.Errorf("ErrorClass(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestRecordSendRejected(t *testing.T) {
	before := testutil.ToFloat64(SendRejected.WithLabelValues("recipient_unknown"))
	RecordSendRejected(models.ErrRecipientUnknown)
	after := testutil.ToFloat64(SendRejected.WithLabelValues("recipient_unknown"))
	if after-before != 1 {
		t.Errorf("counter moved by %v, want 1", after-before)
	}
}

func TestRecordPush_ObservesAckLatency(t *testing.T) {
	readCount := func() uint64 {
		var m dto.Metric
		if err := AckLatency.Write(&m); err != nil {
			t.Fatal(err)
		}
		return m.GetHistogram().GetSampleCount()
	}

	before := readCount()
	RecordPush(PushTimeout, 0)
	if readCount() != before {
		t.Error("timeouts must not be observed as ack latency")
	}
	RecordPush(PushAcked, 20*time.Millisecond)
	if readCount() != before+1 {
		t.Error("ack latency not observed")
	}
}

func TestTrackActiveRequest(t *testing.T) {
	before := testutil.ToFloat64(APIActiveRequests)
	TrackActiveRequest(true)
	if testutil.ToFloat64(APIActiveRequests) != before+1 {
		t.Error("gauge not incremented")
	}
	TrackActiveRequest(false)
	if testutil.ToFloat64(APIActiveRequests) != before {
		t.Error("gauge not decremented")
	}
}

func TestRecordStoreOp(t *testing.T) {
	before := testutil.ToFloat64(StoreOpErrors.WithLabelValues("memory", "append"))
	RecordStoreOp("memory", "append", time.Millisecond, nil)
	RecordStoreOp("memory", "append", time.Millisecond, errors.New("x"))
	if got := testutil.ToFloat64(StoreOpErrors.WithLabelValues("memory", "append")) - before; got != 1 {
		t.Errorf("errors moved by %v, want 1", got)
	}
}

func TestRecordTransition(t *testing.T) {
	before := testutil.ToFloat64(StateTransitions.WithLabelValues("Read"))
	RecordTransition(models.StateRead)
	if testutil.ToFloat64(StateTransitions.WithLabelValues("Read")) != before+1 {
		t.Error("transition not counted")
	}
}

func TestRecordAuthzDecision(t *testing.T) {
	before := testutil.ToFloat64(AuthzDecisions.WithLabelValues("sessions", "read", "denied"))
	RecordAuthzDecision("sessions", "read", false, time.Microsecond)
	if got := testutil.ToFloat64(AuthzDecisions.WithLabelValues("sessions", "read", "denied")) - before; got != 1 {
		t.Errorf("denied moved by %v, want 1", got)
	}
}
