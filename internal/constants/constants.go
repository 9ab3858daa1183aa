package constants

import (
	"net/http"
	"time"
)

// Tracking schema defaults
const (
	DefaultTrackingSchema  = "RoundhousE"
	DefaultVersionTable    = "Version"
	DefaultScriptsRunTable = "ScriptsRun"

	// Providers without schemas prefix the tracking tables instead.
	TablePrefixSeparator = "_"
)

// Folder and file layout
const (
	DefaultScriptExtension = ".sql"
	DefaultLogFileName     = "dbkick.log"
	ChangeDropItemsRan     = "itemsRan"
	ChangeDropBackups      = "backups"
	DefaultVersion         = "0.0.0.0"
	DefaultRepositoryPath  = ""
)

// Default script folder names under the scripts root
const (
	DefaultUpFolder               = "up"
	DefaultRunFirstAfterUpFolder  = "runFirstAfterUp"
	DefaultFunctionsFolder        = "functions"
	DefaultViewsFolder            = "views"
	DefaultStoredProceduresFolder = "sprocs"
	DefaultPermissionsFolder      = "permissions"
	DefaultChangeDropFolder       = "change_drop"
)

// Provider defaults
const (
	DefaultSQLServerPort    = 1433
	DefaultSQLServerSystem  = "master"
	DefaultPostgresPort     = 5432
	DefaultPostgresSSLMode  = "disable"
	DefaultPostgresSystem   = "postgres"
	DefaultMySQLPort        = 3306
	DefaultMySQLSystem      = "mysql"
	DefaultSQLiteSystem     = ":memory:"
	DefaultIntegratedSuffix = "Integrated Security=SSPI;"
)

// Connection pool settings
const (
	DefaultMaxOpenConns    = 10
	DefaultMaxIdleConns    = 2
	DefaultSQLiteMaxConns  = 1 // SQLite allows only one writer
	DefaultMaxConnLifetime = 5 * time.Minute
	DefaultMaxIdleTime     = 1 * time.Minute
)

// Command timeouts
const (
	DefaultCommandTimeout      = 60 * time.Second
	DefaultAdminCommandTimeout = 300 * time.Second
	DefaultConnectTimeout      = 15 * time.Second
)

// Wait Configuration Constants
const (
	DefaultWaitTimeout  = 60 * time.Second
	DefaultWaitInterval = 2 * time.Second
	DefaultWaitStatus   = http.StatusOK
	DefaultWaitMethod   = "GET"
)

// Status server defaults
const (
	DefaultServeAddr      = ":8088"
	DefaultHistoryLimit   = 50
	MaxHistoryLimit       = 1000
	DefaultReadTimeout    = 10 * time.Second
	DefaultShutdownPeriod = 5 * time.Second
)
