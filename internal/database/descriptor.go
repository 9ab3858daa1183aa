package database

import (
	"fmt"
	"strings"

	"github.com/loykin/dbkick/internal/store/connector"
)

// Initialize resolves the connection target. Server and database given
// explicitly win; otherwise the first server / database segment of
// connectionString is used and later ones are dropped. Every other segment is
// kept as a residual option. When no credentials or integrated security option
// is present the dialect's ambient auth option is added. The target connection
// string is always rebuilt from the resolved server, database and residual
// options, so it never disagrees with the descriptor.
//
// For file-backed dialects a "data source" segment names the database file.
//
// The admin connection string is the same target with the catalog replaced by
// the dialect's system database, unless adminConnectionString is given.
func Initialize(connectionString, adminConnectionString, server, database string, d connector.Dialect) connector.Descriptor {
	server = strings.TrimSpace(server)
	database = strings.TrimSpace(database)

	serverKeys, databaseKeys := connector.ServerKeys, connector.DatabaseKeys
	if d.Provider() == connector.ProviderSQLite {
		serverKeys, databaseKeys = connector.FileServerKeys, connector.FileDatabaseKeys
	}

	var residual []connector.Option
	for _, o := range connector.ParseOptions(connectionString) {
		switch {
		case connector.KeyIs(o.Key, serverKeys...):
			if server == "" {
				server = o.Value
			}
		case connector.KeyIs(o.Key, databaseKeys...):
			if database == "" {
				database = o.Value
			}
		default:
			residual = append(residual, o)
		}
	}

	if !hasCredentials(residual) {
		residual = append(residual, connector.ParseOptions(d.AmbientAuthOption())...)
	}

	connectionString = buildConnectionString(server, database, residual)

	adminConnectionString = strings.TrimSpace(adminConnectionString)
	if adminConnectionString == "" {
		adminConnectionString = buildConnectionString(server, d.SystemDatabase(), residual)
	}

	return connector.Descriptor{
		Server:                server,
		Database:              database,
		Provider:              d.Provider(),
		ConnectionString:      connectionString,
		AdminConnectionString: adminConnectionString,
	}
}

func hasCredentials(opts []connector.Option) bool {
	for _, o := range opts {
		if connector.KeyIs(o.Key, connector.IntegratedKeys...) ||
			connector.KeyIs(o.Key, connector.UserKeys...) ||
			connector.KeyIs(o.Key, connector.PasswordKeys...) {
			return true
		}
	}
	return false
}

func buildConnectionString(server, database string, options []connector.Option) string {
	return fmt.Sprintf("Server=%s;initial catalog=%s;%s", server, database, connector.FormatOptions(options))
}
