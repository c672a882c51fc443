package idgen

import (
	"sync"
	"testing"
)

func TestSnowflakeUniqueConcurrent(t *testing.T) {
	gen, err := NewSnowflake(7)
	if err != nil {
		t.Fatal(err)
	}

	const workers, perWorker = 8, 500
	ids := make(chan int64, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				ids <- gen.NextID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]struct{}, workers*perWorker)
	for id := range ids {
		if id <= 0 {
			t.Fatalf("non-positive id %d", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = struct{}{}
	}
}

func TestSnowflakeInvalidNode(t *testing.T) {
	if _, err := NewSnowflake(4096); err == nil {
		t.Fatal("expected error for out-of-range node")
	}
}
