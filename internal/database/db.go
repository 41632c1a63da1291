package database

import (
	"context"
	"database/sql"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Pool limits. Reservation transactions are short and hold row locks, so
// the pool is sized for many small transactions.
const (
	maxOpenConns    = 25
	connMaxLifetime = 30 * time.Minute
	pingTimeout     = 5 * time.Second
)

func driverConfig(user, pass, host, port, name string) *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = pass
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, port)
	cfg.DBName = name
	cfg.ParseTime = true // DATE/DATETIME scan into time.Time
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg
}

// DSN renders the connection string Open uses, for tooling and logs.
func DSN(user, pass, host, port, name string) string {
	return driverConfig(user, pass, host, port, name).FormatDSN()
}

// Open connects to MySQL and verifies the connection with a ping.
func Open(user, pass, host, port, name string) (*sql.DB, error) {
	conn, err := mysql.NewConnector(driverConfig(user, pass, host, port, name))
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(conn)
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
