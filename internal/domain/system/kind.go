// Package system provides the system-under-test model: supported
// database kinds, remote install/restart/health operations, the
// install-state classifier and the persisted setup summary.
package system

import (
	"errors"
	"fmt"

	// Database drivers for health probes and timed query execution.
	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/exasol/exasol-driver-go"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	_ "github.com/sijms/go-ora/v2"
	_ "github.com/trinodb/trino-go-client/trino"
)

// ErrUnknownKind is returned when a configuration names an unsupported
// database kind.
var ErrUnknownKind = errors.New("unknown system kind")

// Kind identifies a supported database system kind. The set is closed:
// adding a kind means adding a constant, a kindSpec entry and driver
// import, all checked at compile time.
type Kind string

const (
	KindExasol     Kind = "exasol"
	KindClickHouse Kind = "clickhouse"
	KindTrino      Kind = "trino"
	KindPostgres   Kind = "postgres"
	KindMySQL      Kind = "mysql"
	KindSQLServer  Kind = "sqlserver"
	KindOracle     Kind = "oracle"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// IsValid checks if the kind is supported.
func (k Kind) IsValid() bool {
	_, ok := kindSpecs[k]
	return ok
}

// ParseKind validates and returns a Kind from its string form.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// kindSpec holds the per-kind constants: SQL driver, DSN construction,
// health probe query, default service unit and default client port.
type kindSpec struct {
	driver       string
	defaultPort  int
	serviceUnit  string
	healthQuery  string
	versionQuery string
	buildDSN     func(host string, port int, database, username, password string) string
}

var kindSpecs = map[Kind]kindSpec{
	KindExasol: {
		driver:       "exasol",
		defaultPort:  8563,
		serviceUnit:  "exasol-db",
		healthQuery:  "SELECT 1",
		versionQuery: "SELECT PARAM_VALUE FROM SYS.EXA_METADATA WHERE PARAM_NAME = 'databaseProductVersion'",
		buildDSN: func(host string, port int, database, username, password string) string {
			return fmt.Sprintf("exa:%s:%d;user=%s;password=%s;validateservercertificate=0", host, port, username, password)
		},
	},
	KindClickHouse: {
		driver:       "clickhouse",
		defaultPort:  9000,
		serviceUnit:  "clickhouse-server",
		healthQuery:  "SELECT 1",
		versionQuery: "SELECT version()",
		buildDSN: func(host string, port int, database, username, password string) string {
			if database == "" {
				database = "default"
			}
			return fmt.Sprintf("clickhouse://%s:%s@%s:%d/%s", username, password, host, port, database)
		},
	},
	KindTrino: {
		driver:       "trino",
		defaultPort:  8080,
		serviceUnit:  "trino",
		healthQuery:  "SELECT 1",
		versionQuery: "SELECT version FROM system.runtime.nodes LIMIT 1",
		buildDSN: func(host string, port int, database, username, password string) string {
			catalog := database
			if catalog == "" {
				catalog = "hive"
			}
			if password != "" {
				return fmt.Sprintf("https://%s:%s@%s:%d?catalog=%s", username, password, host, port, catalog)
			}
			return fmt.Sprintf("http://%s@%s:%d?catalog=%s", username, host, port, catalog)
		},
	},
	KindPostgres: {
		driver:       "postgres",
		defaultPort:  5432,
		serviceUnit:  "postgresql",
		healthQuery:  "SELECT 1",
		versionQuery: "SHOW server_version",
		buildDSN: func(host string, port int, database, username, password string) string {
			return fmt.Sprintf("host=%s port=%d database=%s user=%s password=%s sslmode=prefer",
				host, port, database, username, password)
		},
	},
	KindMySQL: {
		driver:       "mysql",
		defaultPort:  3306,
		serviceUnit:  "mysql",
		healthQuery:  "SELECT 1",
		versionQuery: "SELECT VERSION()",
		buildDSN: func(host string, port int, database, username, password string) string {
			if database == "" {
				return fmt.Sprintf("%s:%s@tcp(%s:%d)/", username, password, host, port)
			}
			return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", username, password, host, port, database)
		},
	},
	KindSQLServer: {
		driver:       "sqlserver",
		defaultPort:  1433,
		serviceUnit:  "mssql-server",
		healthQuery:  "SELECT 1",
		versionQuery: "SELECT @@VERSION",
		buildDSN: func(host string, port int, database, username, password string) string {
			return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&trustservercertificate=true",
				username, password, host, port, database)
		},
	},
	KindOracle: {
		driver:       "oracle",
		defaultPort:  1521,
		serviceUnit:  "oracle-db",
		healthQuery:  "SELECT 1 FROM dual",
		versionQuery: "SELECT banner FROM v$version WHERE ROWNUM = 1",
		buildDSN: func(host string, port int, database, username, password string) string {
			return fmt.Sprintf("oracle://%s:%s@%s:%d/%s", username, password, host, port, database)
		},
	},
}

// spec returns the kindSpec; the kind must be valid.
func (k Kind) spec() kindSpec {
	return kindSpecs[k]
}

// Kinds returns all supported kinds.
func Kinds() []Kind {
	return []Kind{
		KindExasol, KindClickHouse, KindTrino,
		KindPostgres, KindMySQL, KindSQLServer, KindOracle,
	}
}
