package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/dbkick/internal/store/storetest"
)

func TestDialect_MySQLContainer(t *testing.T) {
	if testing.Short() {
		t.Skip("container test skipped in -short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 180*time.Second)
	defer cancel()

	req := tc.ContainerRequest{
		Image:        "mysql:8.0",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": "test",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("3306/tcp"),
			wait.ForLog("ready for connections").WithOccurrence(2),
		),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("skipping MySQL container test: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := c.MappedPort(ctx, "3306/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}

	d := NewDialect()
	server := fmt.Sprintf("Server=%s;Port=%s;Uid=root;Pwd=test;", host, port.Port())
	adminDSN, err := d.DSN(server + "Database=mysql")
	if err != nil {
		t.Fatalf("admin DSN: %v", err)
	}
	admin, err := sql.Open(d.DriverName(), adminDSN)
	if err != nil {
		t.Fatalf("open admin: %v", err)
	}
	defer func() { _ = admin.Close() }()

	deadline := time.Now().Add(60 * time.Second)
	for {
		if err = admin.PingContext(ctx); err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("mysql not ready: %v", err)
	}

	if _, err := admin.ExecContext(ctx, d.CreateDatabase("inventory")); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	var n int
	if err := admin.QueryRowContext(ctx, d.DatabaseExists("inventory")).Scan(&n); err != nil || n != 1 {
		t.Fatalf("DatabaseExists: n=%d err=%v", n, err)
	}

	targetDSN, err := d.DSN(server + "Database=inventory")
	if err != nil {
		t.Fatalf("target DSN: %v", err)
	}
	target, err := sql.Open(d.DriverName(), targetDSN)
	if err != nil {
		t.Fatalf("open target: %v", err)
	}
	storetest.ExerciseTracking(t, ctx, target, d)
	_ = target.Close()

	if _, err := admin.ExecContext(ctx, d.DeleteDatabase("inventory")); err != nil {
		t.Fatalf("DeleteDatabase: %v", err)
	}
}
