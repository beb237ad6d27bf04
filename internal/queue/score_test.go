package queue

import (
	"testing"
	"time"
)

func TestScoreForPriorityOnlyAdvancesReadyMessages(t *testing.T) {
	now := time.Now()

	immediate := scoreFor(now, now, 5)
	if immediate >= float64(now.UnixMilli()) {
		t.Fatalf("priority must advance a ready message, got score %f at now %d", immediate, now.UnixMilli())
	}

	visibleAt := now.Add(30 * time.Second)
	delayed := scoreFor(now, visibleAt, 100)
	if delayed != float64(visibleAt.UnixMilli()) {
		t.Fatalf("delayed message must keep its full backoff, got score %f, want %d", delayed, visibleAt.UnixMilli())
	}
}
