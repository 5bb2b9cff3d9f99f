package drivers

import (
	"strconv"

	go_ora "github.com/sijms/go-ora/v2"

	"github.com/nxsql/sqldest/internal/sqldest"
)

func init() {
	Register("oracle", func() sqldest.Driver {
		return &sqlDriver{
			dialect:    sqldest.DialectOracle,
			driverName: "oracle",
			buildDSN:   oracleDSN,
			quoteValue: quoteWithDoubledChar,
		}
	})
}

// oracleDSN ignores opts.AutoCommit: Oracle has no session-level
// autocommit setting at all, every statement is implicitly transactional
// until an explicit COMMIT, which is why begin() skips the BEGIN
// literal for this dialect but still tracks inTxn.
func oracleDSN(opts sqldest.ConnectOptions) string {
	port, err := strconv.Atoi(opts.Endpoint.Port)
	if err != nil || port == 0 {
		port = 1521
	}
	return go_ora.BuildUrl(opts.Endpoint.Host, port, opts.Endpoint.Database,
		opts.Endpoint.User, opts.Endpoint.Password, nil)
}
