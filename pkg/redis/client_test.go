package redis

import (
	"context"
	"testing"
)

func TestPoolSizeFor(t *testing.T) {
	tests := []struct {
		name    string
		total   int
		workers int
		want    int
	}{
		{"even split", 100, 4, 25},
		{"floor below minimum", 40, 8, 10},
		{"zero workers treated as one", 50, 0, 50},
		{"tiny budget", 4, 2, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PoolSizeFor(tt.total, tt.workers); got != tt.want {
				t.Fatalf("PoolSizeFor(%d, %d) = %d, want %d", tt.total, tt.workers, got, tt.want)
			}
		})
	}
}

func TestNewUniversalClientRequiresAddrs(t *testing.T) {
	_, err := NewUniversalClient(context.Background(), Config{})
	if err == nil {
		t.Fatal("expected error for empty addrs")
	}
}

func TestNewClientFromURLRejectsBadInput(t *testing.T) {
	if _, err := NewClientFromURL(context.Background(), "", 10); err == nil {
		t.Fatal("expected error for empty url")
	}
	if _, err := NewClientFromURL(context.Background(), "://not-a-url", 10); err == nil {
		t.Fatal("expected error for malformed url")
	}
}
