package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustRegisterIsIdempotent(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("second MustRegister panicked: %v", r)
		}
	}()
	MustRegister()
	MustRegister()
}

func TestRouterOutcomeLabelsAreNormalized(t *testing.T) {
	before := testutil.ToFloat64(routerMessagesTotal.WithLabelValues("rejected"))
	IncRouterMessage("  Rejected ")
	after := testutil.ToFloat64(routerMessagesTotal.WithLabelValues("rejected"))
	if after-before != 1 {
		t.Errorf("expected rejected counter to grow by 1, grew by %v", after-before)
	}
}

func TestControlConnectedGauge(t *testing.T) {
	SetControlConnected(true)
	if v := testutil.ToFloat64(controlConnected); v != 1 {
		t.Errorf("expected 1, got %v", v)
	}
	SetControlConnected(false)
	if v := testutil.ToFloat64(controlConnected); v != 0 {
		t.Errorf("expected 0, got %v", v)
	}
}
