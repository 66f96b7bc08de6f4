package leaderboard

import (
	"fmt"
	"testing"
)

func TestUpsertIsIdempotentPerIdentity(t *testing.T) {
	table := New()
	table.Upsert("alice", 5)
	table.Upsert("bob", 7)
	table.Upsert("alice", 9)

	if table.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", table.Len())
	}

	top := table.TopK(10)
	if top[0].UserID != "alice" || top[0].Clicks != 9 {
		t.Fatalf("alice should rank first with 9, got %+v", top[0])
	}
	if top[1].UserID != "bob" || top[1].Clicks != 7 {
		t.Fatalf("bob should rank second with 7, got %+v", top[1])
	}
}

func TestTopKTruncates(t *testing.T) {
	table := New()
	for i := 0; i < 25; i++ {
		table.Upsert(fmt.Sprintf("user%02d", i), int64(i))
	}

	top := table.TopK(DefaultTopK)
	if len(top) != DefaultTopK {
		t.Fatalf("expected %d entries, got %d", DefaultTopK, len(top))
	}
	if top[0].Clicks != 24 {
		t.Fatalf("expected highest score first, got %d", top[0].Clicks)
	}
	for i := 1; i < len(top); i++ {
		if top[i].Clicks > top[i-1].Clicks {
			t.Fatalf("not sorted descending at %d", i)
		}
	}
}

func TestTopKSmallerTable(t *testing.T) {
	table := New()
	table.Upsert("solo", 1)
	if got := table.TopK(10); len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
}

func TestTopKNonPositiveK(t *testing.T) {
	table := New()
	table.Upsert("alice", 5)

	for _, k := range []int{0, -1, -10} {
		if got := table.TopK(k); len(got) != 0 {
			t.Fatalf("TopK(%d) should be empty, got %+v", k, got)
		}
	}
}

func TestTiesKeepInsertionOrder(t *testing.T) {
	table := New()
	table.Upsert("first", 5)
	table.Upsert("second", 5)
	table.Upsert("third", 5)

	top := table.TopK(3)
	want := []string{"first", "second", "third"}
	for i, id := range want {
		if top[i].UserID != id {
			t.Fatalf("tie order broken at %d: got %s, want %s", i, top[i].UserID, id)
		}
	}
}

func TestTopKReturnsACopy(t *testing.T) {
	table := New()
	table.Upsert("alice", 5)
	top := table.TopK(1)
	top[0].Clicks = 999
	if again := table.TopK(1); again[0].Clicks != 5 {
		t.Fatal("mutating TopK result must not affect the table")
	}
}
