package database

import (
	"strings"
	"testing"

	"github.com/loykin/dbkick/internal/store/connector"
	"github.com/loykin/dbkick/internal/store/postgresql"
	"github.com/loykin/dbkick/internal/store/sqlite"
	"github.com/loykin/dbkick/internal/store/sqlserver"
)

func TestInitialize_SQLServer(t *testing.T) {
	d := sqlserver.NewDialect()
	cases := []struct {
		name      string
		cs        string
		admin     string
		server    string
		database  string
		wantSrv   string
		wantDB    string
		wantCS    string
		wantAdmin string
	}{
		{
			name:      "credentials kept",
			cs:        "Server=db1;Database=app;User Id=sa;Password=x;",
			wantSrv:   "db1",
			wantDB:    "app",
			wantCS:    "Server=db1;initial catalog=app;User Id=sa;Password=x;",
			wantAdmin: "Server=db1;initial catalog=master;User Id=sa;Password=x;",
		},
		{
			name:      "ambient auth added",
			cs:        "Data Source=db1;Initial Catalog=app",
			wantSrv:   "db1",
			wantDB:    "app",
			wantCS:    "Server=db1;initial catalog=app;Integrated Security=SSPI;",
			wantAdmin: "Server=db1;initial catalog=master;Integrated Security=SSPI;",
		},
		{
			name:      "explicit names win",
			cs:        "Server=a;Database=b;Trusted_Connection=yes",
			server:    "x",
			database:  "y",
			wantSrv:   "x",
			wantDB:    "y",
			wantCS:    "Server=x;initial catalog=y;Trusted_Connection=yes;",
			wantAdmin: "Server=x;initial catalog=master;Trusted_Connection=yes;",
		},
		{
			name:      "first match wins",
			cs:        "Server=a;Server=b;Database=c;Initial Catalog=d;uid=u",
			wantSrv:   "a",
			wantDB:    "c",
			wantCS:    "Server=a;initial catalog=c;uid=u;",
			wantAdmin: "Server=a;initial catalog=master;uid=u;",
		},
		{
			name:      "synthesized",
			server:    "sql01",
			database:  "inventory",
			wantSrv:   "sql01",
			wantDB:    "inventory",
			wantCS:    "Server=sql01;initial catalog=inventory;Integrated Security=SSPI;",
			wantAdmin: "Server=sql01;initial catalog=master;Integrated Security=SSPI;",
		},
		{
			name:      "explicit admin",
			cs:        "Server=db1;Database=app;User Id=sa;Password=x",
			admin:     "Server=db1;Database=master;User Id=dba;Password=y",
			wantSrv:   "db1",
			wantDB:    "app",
			wantCS:    "Server=db1;initial catalog=app;User Id=sa;Password=x;",
			wantAdmin: "Server=db1;Database=master;User Id=dba;Password=y",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Initialize(tc.cs, tc.admin, tc.server, tc.database, d)
			if got.Server != tc.wantSrv || got.Database != tc.wantDB {
				t.Fatalf("server/database = %q/%q, want %q/%q", got.Server, got.Database, tc.wantSrv, tc.wantDB)
			}
			if got.ConnectionString != tc.wantCS {
				t.Errorf("connection string = %q, want %q", got.ConnectionString, tc.wantCS)
			}
			if got.AdminConnectionString != tc.wantAdmin {
				t.Errorf("admin connection string = %q, want %q", got.AdminConnectionString, tc.wantAdmin)
			}
			if got.Provider != connector.ProviderSQLServer {
				t.Errorf("provider = %v", got.Provider)
			}
		})
	}
}

func TestInitialize_NoAmbientOptionForPostgres(t *testing.T) {
	got := Initialize("Host=pg;Database=app", "", "", "", postgresql.NewDialect())
	if got.ConnectionString != "Server=pg;initial catalog=app;" {
		t.Fatalf("connection string = %q", got.ConnectionString)
	}
	if got.AdminConnectionString != "Server=pg;initial catalog=postgres;" {
		t.Fatalf("admin = %q", got.AdminConnectionString)
	}
}

func TestInitialize_AdminNeverTargetsDatabase(t *testing.T) {
	inputs := []string{
		"Server=s;Database=app;User Id=u;Password=p",
		"Data Source=s;Initial Catalog=orders;Integrated Security=true",
		"database=reports;server=s",
		"Server=s;initial catalog=app;Connect Timeout=30;Encrypt=true",
	}
	for _, d := range []connector.Dialect{sqlserver.NewDialect(), postgresql.NewDialect(), sqlite.NewDialect()} {
		for _, in := range inputs {
			desc := Initialize(in, "", "", "", d)
			catalog, ok := connector.Lookup(connector.ParseOptions(desc.AdminConnectionString), connector.DatabaseKeys...)
			if !ok {
				t.Fatalf("%s: admin %q has no catalog", d.Provider(), desc.AdminConnectionString)
			}
			if catalog != d.SystemDatabase() || catalog == desc.Database {
				t.Fatalf("%s: admin catalog %q for input %q", d.Provider(), catalog, in)
			}
		}
	}
}

func TestInitialize_RoundTrip(t *testing.T) {
	d := sqlserver.NewDialect()
	inputs := []string{
		"Server=s1;Database=app;User Id=u;Password=p",
		"Data Source=tcp:s2,1433;Initial Catalog=orders",
	}
	for _, in := range inputs {
		first := Initialize(in, "", "", "", d)
		rebuilt := Initialize("", "", first.Server, first.Database, d)
		again := Initialize(rebuilt.ConnectionString, "", "", "", d)
		if again.Server != first.Server || again.Database != first.Database {
			t.Fatalf("round trip %q: got %q/%q want %q/%q", in, again.Server, again.Database, first.Server, first.Database)
		}
	}
}

func TestInitialize_TargetFollowsResolvedNames(t *testing.T) {
	cases := []struct {
		name     string
		cs       string
		server   string
		database string
		d        connector.Dialect
		wantSrv  string
		wantDB   string
	}{
		{
			name:     "explicit database",
			cs:       "Server=h;Database=app;User Id=u;Password=p",
			database: "app_test",
			d:        postgresql.NewDialect(),
			wantSrv:  "h",
			wantDB:   "app_test",
		},
		{
			name:    "explicit server",
			cs:      "Server=h;Database=app;User Id=u;Password=p",
			server:  "replica",
			d:       postgresql.NewDialect(),
			wantSrv: "replica",
			wantDB:  "app",
		},
		{
			name:    "repeated catalog",
			cs:      "Server=srv;User Id=u;Database=shop;Database=other",
			d:       sqlserver.NewDialect(),
			wantSrv: "srv",
			wantDB:  "shop",
		},
		{
			name:   "sqlite data source",
			cs:     "Data Source=app.db",
			d:      sqlite.NewDialect(),
			wantDB: "app.db",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Initialize(tc.cs, "", tc.server, tc.database, tc.d)
			if got.Server != tc.wantSrv || got.Database != tc.wantDB {
				t.Fatalf("server/database = %q/%q, want %q/%q", got.Server, got.Database, tc.wantSrv, tc.wantDB)
			}
			opts := connector.ParseOptions(got.ConnectionString)
			var catalogs []string
			for _, o := range opts {
				if connector.KeyIs(o.Key, connector.DatabaseKeys...) {
					catalogs = append(catalogs, o.Value)
				}
			}
			if len(catalogs) != 1 || catalogs[0] != tc.wantDB {
				t.Fatalf("connection string %q catalogs = %v, want [%s]", got.ConnectionString, catalogs, tc.wantDB)
			}
			if srv, _ := connector.Lookup(opts, connector.ServerKeys...); srv != tc.wantSrv {
				t.Fatalf("connection string %q server = %q, want %q", got.ConnectionString, srv, tc.wantSrv)
			}
		})
	}
}

func TestInitialize_PostgresDSNUsesExplicitDatabase(t *testing.T) {
	d := postgresql.NewDialect()
	desc := Initialize("Server=h;Database=app;User Id=u;Password=p", "", "", "app_test", d)
	dsn, err := d.DSN(desc.ConnectionString)
	if err != nil {
		t.Fatalf("DSN: %v", err)
	}
	if !strings.Contains(dsn, "dbname=app_test") || strings.Contains(dsn, "dbname=app ") {
		t.Fatalf("dsn = %q", dsn)
	}
}

func TestInitialize_SQLiteDataSourceOpens(t *testing.T) {
	d := sqlite.NewDialect()
	desc := Initialize("Data Source=app.db;Cache=Shared", "", "", "", d)
	dsn, err := d.DSN(desc.ConnectionString)
	if err != nil {
		t.Fatalf("DSN: %v", err)
	}
	if !strings.HasPrefix(dsn, "file:app.db?") {
		t.Fatalf("dsn = %q", dsn)
	}
	if _, err := New(Config{Provider: "sqlite", ConnectionString: "Data Source=app.db"}, nil); err != nil {
		t.Fatalf("New: %v", err)
	}
}
