package db

import (
	"context"
	"fmt"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

/*
GetSqliteDialector define Sqlite GORM dialector

Transactions are opened with BEGIN IMMEDIATE so concurrent writers (e.g. two rotations
of the same secret) serialize on the write lock instead of deadlocking.

	@param dbFile string - Sqlite DB file
	@return GORM sqlite dialector
*/
func GetSqliteDialector(dbFile string) gorm.Dialector {
	return sqlite.Open(
		fmt.Sprintf(
			"%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=10000&_txlock=immediate", dbFile,
		),
	)
}

/*
GetPostgresDialector define Postgres GORM dialector

	@param dsn string - Postgres connection string
	@return GORM postgres dialector
*/
func GetPostgresDialector(dsn string) gorm.Dialector {
	return postgres.Open(dsn)
}

// Client manages connections and transactions with a DB
type Client interface {
	/*
		RunSQLInTransaction execute SQL calls within a transaction

			@param ctx context.Context - execution context
			@param coreLogic func(ctx context.Context, tx *gorm.DB) error - the callback to execute
	*/
	RunSQLInTransaction(
		ctx context.Context, coreLogic func(ctx context.Context, tx *gorm.DB) error,
	) error

	/*
		UseDatabase utilize a `Database` instance

			@param ctx context.Context - execution context
			@param coreLogic func(ctx context.Context, dbClient Database) error - the callback to execute
	*/
	UseDatabase(
		ctx context.Context, coreLogic func(ctx context.Context, dbClient Database) error,
	) error

	/*
		UseDatabaseInTransaction utilize a `Database` instance in a transaction

			@param ctx context.Context - execution context
			@param coreLogic func(ctx context.Context, dbClient Database) error - the callback to execute
	*/
	UseDatabaseInTransaction(
		ctx context.Context, coreLogic func(ctx context.Context, dbClient Database) error,
	) error

	/*
		Ping check the DB is reachable

			@param ctx context.Context - execution context
	*/
	Ping(ctx context.Context) error

	/*
		Close close the underlying DB connection pool
	*/
	Close() error
}

// clientImpl implements Client
type clientImpl struct {
	goutils.Component
	db *gorm.DB
}

/*
NewConnection define a new SQL client

	@param dbDialector gorm.Dialector - GORM dialector
	@param dbLogLevel logger.LogLevel - SQL log level
	@return new client
*/
func NewConnection(dbDialector gorm.Dialector, dbLogLevel logger.LogLevel) (Client, error) {
	logTags := log.Fields{"package": "proxykey", "module": "db", "component": "sql-client"}

	db, err := gorm.Open(dbDialector, &gorm.Config{
		Logger:                 newSQLLogger(logTags, dbLogLevel),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect with DB [%w]", err)
	}

	instance := &clientImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		db: db,
	}

	return instance, nil
}

/*
RunSQLInTransaction execute SQL calls within a transaction

	@param ctx context.Context - execution context
	@param coreLogic func(ctx context.Context, tx *gorm.DB) error - the callback to execute
*/
func (c *clientImpl) RunSQLInTransaction(
	ctx context.Context, coreLogic func(ctx context.Context, tx *gorm.DB) error,
) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return coreLogic(ctx, tx)
	})
}

/*
Ping check the DB is reachable

	@param ctx context.Context - execution context
*/
func (c *clientImpl) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access SQL connection pool [%w]", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		log.WithError(err).WithFields(c.GetLogTagsForContext(ctx)).Error("DB unreachable")
		return fmt.Errorf("DB unreachable [%w]", err)
	}
	return nil
}

/*
Close close the underlying DB connection pool
*/
func (c *clientImpl) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access SQL connection pool [%w]", err)
	}
	return sqlDB.Close()
}

/*
UseDatabase utilize a `Database` instance

	@param ctx context.Context - execution context
	@param coreLogic func(ctx context.Context, dbClient Database) error - the callback to execute
*/
func (c *clientImpl) UseDatabase(
	ctx context.Context, coreLogic func(ctx context.Context, dbClient Database) error,
) error {
	dbClient, err := newDatabase(ctx, c.db.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to define `Database` instance: [%w]", err)
	}
	return coreLogic(ctx, dbClient)
}

/*
UseDatabaseInTransaction utilize a `Database` instance in a transaction

	@param ctx context.Context - execution context
	@param coreLogic func(ctx context.Context, dbClient Database) error - the callback to execute
*/
func (c *clientImpl) UseDatabaseInTransaction(
	ctx context.Context, coreLogic func(ctx context.Context, dbClient Database) error,
) error {
	return c.RunSQLInTransaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		dbClient, err := newDatabase(ctx, tx)
		if err != nil {
			return fmt.Errorf("failed to define `Database` instance: [%w]", err)
		}
		return coreLogic(ctx, dbClient)
	})
}

/*
ActiveSessionWrapper helper function for deciding whether to start a new transition
or use an existing one.

	@param ctx context.Context - execution context
	@param activeDBClient Database - existing database transaction
	@param persistence Client - persistence client
	@param coreLogic func(ctx context.Context, dbClient Database) error - the callback to execute
*/
func ActiveSessionWrapper(
	ctx context.Context,
	activeDBClient Database,
	persistence Client,
	coreLogic func(ctx context.Context, dbClient Database) error,
) error {
	if activeDBClient == nil {
		return persistence.UseDatabaseInTransaction(ctx, coreLogic)
	}
	return coreLogic(ctx, activeDBClient)
}
