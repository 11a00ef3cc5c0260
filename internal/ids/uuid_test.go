package ids

import "testing"

func TestUUIDProviderIssuesDistinctVersion7Identifiers(t *testing.T) {
	provider := NewUUIDProvider()
	first, err := provider.NewID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := provider.NewID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct identifiers, got %q twice", first)
	}
	if !Valid(first) || first[14] != '7' {
		t.Fatalf("expected a version 7 uuid, got %q", first)
	}
}

func TestValidRejectsGarbage(t *testing.T) {
	for _, value := range []string{"", "note-1", "../../etc/passwd"} {
		if Valid(value) {
			t.Fatalf("expected %q to be rejected", value)
		}
	}
}
