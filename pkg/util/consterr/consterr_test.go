package consterr

import (
	"errors"
	"fmt"
	"testing"
)

func TestConstErr(t *testing.T) {
	const errLocal = ConstErr("local failure")

	if errLocal.Error() != "local failure" {
		t.Fatalf("Error() returned %q rather than %q", errLocal.Error(), "local failure")
	}

	wrapped := fmt.Errorf("Could not do the thing: %w", errLocal)
	if !errors.Is(wrapped, errLocal) {
		t.Fatal("Wrapped constant error was not matched by errors.Is")
	}
	if errors.Is(wrapped, ErrUnsupported) {
		t.Fatal("Wrapped constant error matched an unrelated constant error")
	}
}
