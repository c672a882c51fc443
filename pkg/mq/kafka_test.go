package mq

import (
	"context"
	"testing"
	"time"
)

func TestConsumerWait(t *testing.T) {
	c := &Consumer{}
	if !c.wait(context.Background(), time.Now()) {
		t.Fatal("no delay must not wait")
	}

	c.delay = 20 * time.Millisecond
	start := time.Now()
	if !c.wait(context.Background(), start) {
		t.Fatal("wait returned false")
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("delay not honoured: %s", elapsed)
	}

	// 已经过期的消息立即处理
	if !c.wait(context.Background(), time.Now().Add(-time.Minute)) {
		t.Fatal("expired message should pass")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.delay = time.Hour
	if c.wait(ctx, time.Now()) {
		t.Fatal("canceled context must stop waiting")
	}
}
