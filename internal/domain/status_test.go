package domain

import (
	"errors"
	"testing"
)

func TestRequestTransitions(t *testing.T) {
	allowed := []struct{ from, to RequestStatus }{
		{StatusPending, StatusProcessing},
		{StatusPending, StatusCancelled},
		{StatusProcessing, StatusCompleted},
		{StatusProcessing, StatusFailed},
		{StatusFailed, StatusPending},
		{StatusFailed, StatusDeadLetter},
		{StatusDeadLetter, StatusCompleted},
	}
	for _, tc := range allowed {
		if err := EnsureTransition(tc.from, tc.to); err != nil {
			t.Fatalf("%s -> %s: %v", tc.from, tc.to, err)
		}
	}
	denied := []struct{ from, to RequestStatus }{
		{StatusCompleted, StatusPending},
		{StatusCancelled, StatusPending},
		{StatusProcessing, StatusPending},
		{StatusProcessing, StatusCancelled},
		{StatusDeadLetter, StatusPending},
	}
	for _, tc := range denied {
		err := EnsureTransition(tc.from, tc.to)
		var te TransitionError
		if !errors.As(err, &te) {
			t.Fatalf("%s -> %s: expected TransitionError, got %v", tc.from, tc.to, err)
		}
	}
}

func TestNotFoundErrorUnwraps(t *testing.T) {
	err := error(NotFoundError{Entity: "customer card", ID: "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound")
	}
}

func TestParsePriorityDefaultsToNormal(t *testing.T) {
	p, err := ParsePriority("")
	if err != nil || p != PriorityNormal {
		t.Fatalf("got %q %v", p, err)
	}
	if _, err := ParsePriority("urgent"); err == nil {
		t.Fatalf("expected validation error")
	}
	if PriorityHigh.Rank() >= PriorityLow.Rank() {
		t.Fatalf("high must rank before low")
	}
}

func TestParseStatus(t *testing.T) {
	if st, err := ParseStatus("dead_letter"); err != nil || st != StatusDeadLetter {
		t.Fatalf("ParseStatus(dead_letter) = %q, %v", st, err)
	}
	var verr ValidationError
	if _, err := ParseStatus("done"); !errors.As(err, &verr) || verr.Field != "status" {
		t.Fatalf("expected a status validation error, got %v", err)
	}
}
