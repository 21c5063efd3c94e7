package internal

import (
	"testing"

	rtcsignal "github.com/damesirelord/WebRTC-single-server"
)

func TestSixCharUserID(t *testing.T) {
	id := SixCharUserID()
	if len(id) != 6 {
		t.Fatalf("len(%q) = %d, want 6", id, len(id))
	}
}

func TestGenerateUniqueUserIDRetriesUntilClaimed(t *testing.T) {
	calls := 0
	id := GenerateUniqueUserID(func(rtcsignal.UserID) bool {
		calls++
		return calls >= 3
	})
	if calls != 3 {
		t.Fatalf("claim called %d times, want 3", calls)
	}
	if id == "" {
		t.Fatal("empty id")
	}
}
