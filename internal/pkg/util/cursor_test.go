package util

import "testing"

func TestCursorRoundTrip(t *testing.T) {
	sortValues := []interface{}{float64(1755856800000), "doc-42"}

	cursor := EncodeCursor(sortValues)
	if cursor == "" {
		t.Fatal("cursor should not be empty")
	}

	decoded, err := DecodeCursor(cursor)
	if err != nil {
		t.Fatalf("decode cursor: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("decoded length = %d, want 2", len(decoded))
	}
	if decoded[0] != float64(1755856800000) || decoded[1] != "doc-42" {
		t.Fatalf("decoded = %v, want %v", decoded, sortValues)
	}
}

func TestEncodeCursorEmpty(t *testing.T) {
	if got := EncodeCursor(nil); got != "" {
		t.Fatalf("EncodeCursor(nil) = %q, want empty", got)
	}
}

func TestDecodeCursorEmpty(t *testing.T) {
	decoded, err := DecodeCursor("")
	if err != nil || decoded != nil {
		t.Fatalf("DecodeCursor(\"\") = %v, %v, want nil, nil", decoded, err)
	}
}

func TestDecodeCursorGarbage(t *testing.T) {
	if _, err := DecodeCursor("!!not-a-cursor!!"); err == nil {
		t.Fatal("expected error for invalid cursor")
	}
}
