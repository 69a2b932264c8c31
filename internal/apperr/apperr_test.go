package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorsIsMatchesKindAndCode(t *testing.T) {
	sentinel := Validation("UnsupportedCurrency", "only ADA currency supported")
	err := fmt.Errorf("lock: %w", sentinel.Withf("got %q", "BTC"))

	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped error to match sentinel")
	}
	if errors.Is(err, Validation("BelowMinimumAmount", "")) {
		t.Fatalf("expected different code not to match")
	}
	if !errors.Is(err, &Error{Kind: KindValidation}) {
		t.Fatalf("expected kind-only target to match")
	}
	if errors.Is(err, &Error{Kind: KindStateConflict}) {
		t.Fatalf("expected different kind not to match")
	}
}

func TestKindOf(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("history: %w", ExternalService("IndexerUnavailable", "").With(cause))

	if got := KindOf(err); got != KindExternalService {
		t.Fatalf("expected external service kind, got %s", got)
	}
	if got := CodeOf(err); got != "IndexerUnavailable" {
		t.Fatalf("unexpected code %q", got)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to remain reachable")
	}
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Fatalf("expected unknown kind, got %s", got)
	}
}

func TestErrorMessage(t *testing.T) {
	err := NotFound("MissingToken", "no minted transaction").Withf("asset %s", "abc")
	want := "NotFoundError: MissingToken: no minted transaction (asset abc)"
	if err.Error() != want {
		t.Fatalf("expected %q got %q", want, err.Error())
	}
}
