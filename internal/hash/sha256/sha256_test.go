package sha256

import (
	"strings"
	"testing"
)

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "sha256:b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	again, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if again != got {
		t.Fatalf("expected stable digest, got %s vs %s", again, got)
	}
}

func TestHasherHashDiffers(t *testing.T) {
	t.Parallel()

	a, _ := New().Hash([]byte("a"))
	b, _ := New().Hash([]byte("b"))
	if a == b {
		t.Fatalf("expected distinct digests, both %s", a)
	}
	if !strings.HasPrefix(a, Prefix) {
		t.Fatalf("expected %q prefix on %s", Prefix, a)
	}
}
