package sqldest_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxsql/sqldest/internal/sqldest"
)

func TestValidatePort(t *testing.T) {
	assert.True(t, sqldest.ValidatePort("3306"))
	assert.True(t, sqldest.ValidatePort(""))
	assert.False(t, sqldest.ValidatePort("33a6"))
	assert.False(t, sqldest.ValidatePort("-1"))
}

func TestParseFlagsRecognizesAliases(t *testing.T) {
	f := sqldest.ParseFlags(nil, []string{"explicit-commits", "dont_create_tables"})
	assert.True(t, f.ExplicitCommits)
	assert.True(t, f.DontCreateTables)
}

func TestParseFlagsWarnsAndIgnoresUnknown(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	f := sqldest.ParseFlags(logger, []string{"totally-made-up"})
	assert.False(t, f.ExplicitCommits)
	assert.False(t, f.DontCreateTables)
	assert.Contains(t, buf.String(), "unknown SQL destination flag")
}

func TestConfigValidateRejectsBadColumnName(t *testing.T) {
	cfg := sqldest.Config{
		Fields: []sqldest.FieldSpec{
			{Name: "1bad", SQLType: "TEXT"},
		},
		NumRetries: 3,
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1bad")
}

func TestConfigValidateRejectsZeroRetries(t *testing.T) {
	cfg := sqldest.Config{
		Fields:     []sqldest.FieldSpec{{Name: "msg", SQLType: "TEXT"}},
		NumRetries: 0,
	}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestConfigValidateChecksDefaultFlagFieldNamesToo(t *testing.T) {
	cfg := sqldest.Config{
		Fields: []sqldest.FieldSpec{
			{Name: "1bad", SQLType: "TEXT", IsDefault: true},
			{Name: "msg", SQLType: "TEXT"},
		},
		NumRetries: 3,
	}
	err := cfg.Validate()
	require.Error(t, err, "a DEFAULT column still needs a valid SQL identifier")
	assert.Contains(t, err.Error(), "1bad")
}

func TestConfigValidateAcceptsWellFormedDefaultFlagField(t *testing.T) {
	cfg := sqldest.Config{
		Fields: []sqldest.FieldSpec{
			{Name: "created_at", SQLType: "TIMESTAMP", IsDefault: true},
			{Name: "msg", SQLType: "TEXT"},
		},
		NumRetries: 3,
	}
	assert.NoError(t, cfg.Validate())
}

func TestInitialFlushCounter(t *testing.T) {
	assert.Equal(t, -1, sqldest.Config{FlushLines: -1}.InitialFlushCounter())
	assert.Equal(t, 0, sqldest.Config{FlushLines: 5}.InitialFlushCounter())
}

func TestIndexingEnabled(t *testing.T) {
	assert.False(t, sqldest.Config{}.IndexingEnabled())
	assert.True(t, sqldest.Config{Indexes: []string{"host"}}.IndexingEnabled())
}

func TestPersistKeyUsesFiveTuple(t *testing.T) {
	cfg := sqldest.Config{
		DriverKind:    "mssql",
		Endpoint:      sqldest.Endpoint{Host: "db1", Port: "1433", Database: "logs"},
		TableTemplate: "messages_${YEAR}",
	}
	key := cfg.PersistKey()
	assert.Equal(t, "freetds", key.Dialect, "dialect normalization must apply before the key is derived")
	assert.Equal(t, "db1", key.Host)
	assert.Equal(t, "1433", key.Port)
	assert.Equal(t, "logs", key.Database)
	assert.Equal(t, "messages_${YEAR}", key.TableTemplate)
}
