package cqlstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// cassandraHosts returns hosts of a reachable Cassandra node.
//
// Modes:
//   - CASSANDRA_HOSTS=host1:9042,host2:9042 uses an existing cluster
//   - TEST_CASSANDRA_BACKEND=true starts a container (requires Docker)
//
// Run with: TEST_CASSANDRA_BACKEND=true go test -run TestIntegration_Cassandra -v
func cassandraHosts(t *testing.T, ctx context.Context) []string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if hosts := os.Getenv("CASSANDRA_HOSTS"); hosts != "" {
		return strings.Split(hosts, ",")
	}
	if os.Getenv("TEST_CASSANDRA_BACKEND") != "true" {
		t.Skip("Set TEST_CASSANDRA_BACKEND=true or CASSANDRA_HOSTS to run Cassandra integration tests")
	}

	// Catch panic if Docker daemon is not running
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("Docker daemon not available, skipping testcontainers test: %v", r)
		}
	}()

	req := testcontainers.ContainerRequest{
		Image:        "cassandra:4.1",
		ExposedPorts: []string{"9042/tcp"},
		Env: map[string]string{
			"MAX_HEAP_SIZE": "512M",
			"HEAP_NEWSIZE":  "128M",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("9042/tcp"),
			wait.ForLog("Starting listening for CQL clients"),
		).WithDeadline(3 * time.Minute),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Failed to start Cassandra container (Docker not available?): %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("Failed to terminate Cassandra container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9042")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	return []string{fmt.Sprintf("%s:%s", host, port.Port())}
}

func TestIntegration_Cassandra(t *testing.T) {
	ctx := context.Background()
	hosts := cassandraHosts(t, ctx)

	fs := afero.NewMemMapFs()
	backend, err := New(Config{
		Hosts:          hosts,
		Namespace:      "cqlstore_it",
		ConnectTimeout: time.Minute,
		QueryTimeout:   10 * time.Second,
	}, WithStagingFs(fs))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer backend.Close()

	if err := backend.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	t.Run("CRUD", func(t *testing.T) {
		rec := testRecord{ID: "r1", Title: "Integration"}
		if err := backend.Set(ctx, "records", "r1", rec, WithMetadata(map[string]string{"k": "v"})); err != nil {
			t.Fatalf("Set: %v", err)
		}
		var got testRecord
		found, err := backend.Get(ctx, "records", "r1", &got)
		if err != nil || !found || got.Title != "Integration" {
			t.Fatalf("Get = %v, %v, %+v", found, err, got)
		}
		if err := backend.Delete(ctx, "records", "r1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if found, _ := backend.Get(ctx, "records", "r1", &got); found {
			t.Error("record still present after Delete")
		}
	})

	t.Run("MultiKey", func(t *testing.T) {
		for _, id := range []string{"a", "b", "c"} {
			if err := backend.Set(ctx, "multi", id, id); err != nil {
				t.Fatalf("Set: %v", err)
			}
		}
		got, err := backend.Select(ctx, "multi", Keys("a", "c", "missing"))
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("got %d records, want 2", len(got))
		}
		all, err := backend.Select(ctx, "multi", AllKeys())
		if err != nil {
			t.Fatalf("Select all: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("got %d records, want 3", len(all))
		}
	})

	t.Run("TTL", func(t *testing.T) {
		if err := backend.Set(ctx, "ephemeral", "k", "v", WithExpiration(1)); err != nil {
			t.Fatalf("Set: %v", err)
		}
		time.Sleep(2500 * time.Millisecond)
		if found, _ := backend.Get(ctx, "ephemeral", "k", new(string)); found {
			t.Error("record should have expired")
		}
	})

	t.Run("Media", func(t *testing.T) {
		payload := []byte{0, 1, 2, 3, 254, 255}
		if err := afero.WriteFile(fs, "/upload", payload, DefaultFilePermissions); err != nil {
			t.Fatalf("stage: %v", err)
		}
		if err := backend.Media().Save(ctx, "r1", "bin", MediaMetadata{ContentType: "application/x-test"}, "/upload"); err != nil {
			t.Fatalf("Save: %v", err)
		}
		sink := &recordingSink{}
		if err := backend.Media().Send(ctx, "r1", "bin", sink); err != nil {
			t.Fatalf("Send: %v", err)
		}
		if sink.contentType != "application/x-test" || sink.body.Len() != len(payload) {
			t.Errorf("sink = %q, %d bytes", sink.contentType, sink.body.Len())
		}
	})
}
