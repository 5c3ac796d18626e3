package vmm

import (
	"strings"
	"testing"
)

func TestNewVmIdIsNonEmpty(t *testing.T) {
	id := NewVmId()
	if id.IsZero() {
		t.Fatal("expected a generated id to be non-zero")
	}
	if len(id.String()) > maxVmIdLen {
		t.Fatalf("generated id %q exceeds max length", id.String())
	}
}

func TestParseVmIdRejectsEmpty(t *testing.T) {
	if _, err := ParseVmId(""); err == nil {
		t.Fatal("expected an error for an empty id")
	}
}

func TestParseVmIdRejectsTooLong(t *testing.T) {
	long := strings.Repeat("a", maxVmIdLen+1)
	if _, err := ParseVmId(long); err == nil {
		t.Fatal("expected an error for an overlong id")
	}
}

func TestParseVmIdAccepts(t *testing.T) {
	id, err := ParseVmId("my-vm-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.String() != "my-vm-1" {
		t.Fatalf("got %q, want %q", id.String(), "my-vm-1")
	}
}
