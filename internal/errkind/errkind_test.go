package errkind

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

var errPlanMissing = NotFound("plan_not_found")

func TestWrappedSentinelStillMatches(t *testing.T) {
	err := fmt.Errorf("load plan: %w", errPlanMissing.Wrap(errors.New("no rows")))
	if !errors.Is(err, errPlanMissing) {
		t.Fatalf("expected wrapped error to match sentinel")
	}
	if Of(err) != KindNotFound {
		t.Fatalf("expected not_found kind, got %s", Of(err))
	}
	if Code(err) != "plan_not_found" {
		t.Fatalf("expected code plan_not_found, got %s", Code(err))
	}
}

func TestRemoteGatewayKeepsCause(t *testing.T) {
	err := RemoteGateway("gateway_timeout", context.DeadlineExceeded)
	if !IsRemoteGateway(err) {
		t.Fatalf("expected remote gateway kind")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected cause to be reachable")
	}
}

func TestUnclassifiedIsInternal(t *testing.T) {
	if Of(errors.New("boom")) != KindInternal {
		t.Fatalf("expected internal kind")
	}
	if Of(nil) != "" {
		t.Fatalf("expected empty kind for nil")
	}
	if errors.Is(Conflict("a"), Conflict("b")) {
		t.Fatalf("different codes must not match")
	}
}
