package galerr

import (
	"testing"

	"github.com/pkg/errors"
)

func TestKindOfRecoversWrappedKind(t *testing.T) {
	base := New(NotFound, errors.New("missing manifest"))
	wrapped := errors.Wrap(base, "resolving build")
	if got := KindOf(wrapped); got != NotFound {
		t.Fatalf("KindOf() = %v, want %v", got, NotFound)
	}
	if !Is(wrapped, NotFound) {
		t.Fatalf("Is(NotFound) = false, want true")
	}
}

func TestKindOfUnknownForPlainError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != Unknown {
		t.Fatalf("KindOf() = %v, want %v", got, Unknown)
	}
}

func TestNewNilError(t *testing.T) {
	if err := New(NotFound, nil); err != nil {
		t.Fatalf("New(_, nil) = %v, want nil", err)
	}
}
