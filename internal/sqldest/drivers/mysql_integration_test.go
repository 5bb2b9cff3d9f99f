//go:build integration
// +build integration

package drivers

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/nxsql/sqldest/internal/sqldest"
)

// TestMySQLDestinationEndToEnd drives a real Worker against a throwaway
// MySQL container: unknown table creation, a batch of inserts, and the
// flush-threshold commit, exercising the mysql driver adapter the same
// way the teacher's dolt integration tests exercise internal/storage/dolt
// against a live engine instead of a fake.
func TestMySQLDestinationEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := mysql.Run(ctx, "mysql:8.0",
		mysql.WithDatabase("sqldest_test"),
		mysql.WithUsername("sqldest"),
		mysql.WithPassword("sqldest"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	cfg := sqldest.Config{
		DriverKind: "mysql",
		Endpoint: sqldest.Endpoint{
			Host:     host,
			Port:     port.Port(),
			User:     "sqldest",
			Password: "sqldest",
			Database: "sqldest_test",
		},
		TableTemplate: "messages",
		Fields: []sqldest.FieldSpec{
			{Name: "msg", SQLType: "TEXT"},
			{Name: "host", SQLType: "VARCHAR(255)"},
		},
		Indexes:    []string{"host"},
		Flags:      sqldest.Flags{ExplicitCommits: true},
		FlushLines: 3,
		NumRetries: 3,
		TimeReopen: 5,
	}

	queue := sqldest.NewMemQueue()
	stats := sqldest.NoopStats{}
	render := sqldest.WorkerTemplates{
		Table: sqldest.TemplateFunc(func(sqldest.Message, sqldest.TimeZone, int64) (string, error) {
			return "messages", nil
		}),
		Fields: map[string]sqldest.Template{
			"msg":  fieldOf("msg"),
			"host": fieldOf("host"),
		},
	}

	dest, err := NewDestination(cfg, queue, stats, nil, render, slog.Default())
	require.NoError(t, err)

	dest.Start(ctx)
	for i := 0; i < 5; i++ {
		dest.Enqueue(map[string]string{"msg": "hello", "host": "web01"})
	}

	require.Eventually(t, func() bool {
		return queue.GetLength() == 0
	}, 30*time.Second, 100*time.Millisecond, "all 5 messages must be committed")

	dest.Stop()
}

func fieldOf(name string) sqldest.Template {
	return sqldest.TemplateFunc(func(msg sqldest.Message, _ sqldest.TimeZone, _ int64) (string, error) {
		rec, _ := msg.(map[string]string)
		return rec[name], nil
	})
}
