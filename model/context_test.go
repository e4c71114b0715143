package model

import (
	"context"
	"testing"
)

func TestRequestContext_roundTrip(t *testing.T) {
	rc := &RequestContext{SessionID: "s-1", SubjectID: "7", Role: "Superadmin"}
	ctx := WithRequestContext(context.Background(), rc)
	if got := RequestContextFrom(ctx); got != rc {
		t.Errorf("RequestContextFrom() = %v, want %v", got, rc)
	}
	if RequestContextFrom(context.Background()) != nil {
		t.Error("RequestContextFrom(empty) should be nil")
	}
}

func TestMustRequestContext_panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustRequestContext should panic without a request context")
		}
	}()
	MustRequestContext(context.Background())
}
