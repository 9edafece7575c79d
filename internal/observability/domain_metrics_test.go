package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveSourceLoadSplitsOutcomes(t *testing.T) {
	okBefore := testutil.ToFloat64(sourceLoadsTotal.WithLabelValues("csv", "ok"))
	errBefore := testutil.ToFloat64(sourceLoadsTotal.WithLabelValues("csv", "error"))

	ObserveSourceLoad("csv", nil)
	ObserveSourceLoad("csv", errors.New("boom"))
	ObserveSourceLoad("csv", nil)

	if got := testutil.ToFloat64(sourceLoadsTotal.WithLabelValues("csv", "ok")) - okBefore; got != 2 {
		t.Fatalf("ok loads = %v", got)
	}
	if got := testutil.ToFloat64(sourceLoadsTotal.WithLabelValues("csv", "error")) - errBefore; got != 1 {
		t.Fatalf("error loads = %v", got)
	}
}

func TestLiveGaugesMoveBothWays(t *testing.T) {
	before := testutil.ToFloat64(liveSessions)
	AddLiveSessions(1)
	AddLiveSessions(1)
	AddLiveSessions(-1)
	if got := testutil.ToFloat64(liveSessions) - before; got != 1 {
		t.Fatalf("live sessions delta = %v", got)
	}
	AddLiveSessions(-1)
}
