package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestEnsureStreams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		calls int
	}{
		{"creates stream and group", 1},
		{"repeat calls are no-ops", 3},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			defer rdb.Close()

			for i := 0; i < tt.calls; i++ {
				if err := EnsureStreams(context.Background(), rdb, DefaultStream, DefaultStreamGroup, testLogger()); err != nil {
					t.Fatalf("EnsureStreams call %d: %v", i+1, err)
				}
			}

			groups, err := rdb.XInfoGroups(context.Background(), DefaultStream).Result()
			if err != nil {
				t.Fatalf("XInfoGroups: %v", err)
			}
			if len(groups) != 1 || groups[0].Name != DefaultStreamGroup {
				t.Errorf("groups = %+v, want only %s", groups, DefaultStreamGroup)
			}
		})
	}
}

func TestEnsureStreams_WrongType(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	if err := mr.Set(DefaultStream, "not-a-stream"); err != nil {
		t.Fatalf("seeding key: %v", err)
	}
	if err := EnsureStreams(context.Background(), rdb, DefaultStream, DefaultStreamGroup, testLogger()); err == nil {
		t.Fatal("expected error when the key holds a non-stream value")
	}
}
