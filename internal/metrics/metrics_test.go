package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if poolCheckoutsTotal == nil || poolInUse == nil ||
		storeSaveRetriesTotal == nil || storeQueryDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	// A simple check that a collector can be used after Init.
	ObserveCheckout("sina", CheckoutFresh)
	if val := testutil.ToFloat64(poolCheckoutsTotal.WithLabelValues("sina", CheckoutFresh)); val != 1 {
		t.Errorf("expected checkout counter to be 1, got %f", val)
	}

	SetPoolInUse("sina", 2)
	if val := testutil.ToFloat64(poolInUse.WithLabelValues("sina")); val != 2 {
		t.Errorf("expected in-use gauge to be 2, got %f", val)
	}

	AddSaveRetry("sina")
	AddVerificationFailure("sina")
	ObserveQueryDuration("all", 5*time.Millisecond)
}
