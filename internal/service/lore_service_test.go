package service

import "testing"

func TestMergeTagsDedupesKeepingOrder(t *testing.T) {
	got := mergeTags([]string{"奇幻", "冒险"}, []string{"冒险", "魔法", ""})
	want := []string{"奇幻", "冒险", "魔法"}
	if len(got) != len(want) {
		t.Fatalf("merged = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("merged[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMergeTagsBothEmpty(t *testing.T) {
	if got := mergeTags(nil, nil); len(got) != 0 {
		t.Fatalf("expected empty merge, got %v", got)
	}
}
