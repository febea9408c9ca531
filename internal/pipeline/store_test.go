package pipeline

import (
	"fmt"
	"testing"
)

func TestRunStoreEvictsOldest(t *testing.T) {
	s := NewRunStore(3)
	for i := 0; i < 5; i++ {
		s.Add(RunRecord{RunID: fmt.Sprintf("run-%d", i)})
	}

	list := s.List()
	if len(list) != 3 {
		t.Fatalf("retained = %d, want 3", len(list))
	}
	if list[0].RunID != "run-4" || list[2].RunID != "run-2" {
		t.Fatalf("list = %+v, want most recent first", list)
	}

	if _, ok := s.Get("run-0"); ok {
		t.Fatal("evicted record still retrievable")
	}
	if _, ok := s.Get("run-4"); !ok {
		t.Fatal("recent record missing")
	}
}
