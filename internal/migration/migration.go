package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	apikeydomain "github.com/smallbiznis/heartline/internal/apikey/domain"
	credentialdomain "github.com/smallbiznis/heartline/internal/credential/domain"
	instancedomain "github.com/smallbiznis/heartline/internal/instance/domain"
	pendingdomain "github.com/smallbiznis/heartline/internal/pending/domain"
	usagedomain "github.com/smallbiznis/heartline/internal/usage/domain"
	userdomain "github.com/smallbiznis/heartline/internal/user/domain"
	"github.com/smallbiznis/heartline/pkg/db"
	"gorm.io/gorm"
)

// Models lists every persisted model, in dependency order.
func Models() []any {
	return []any{
		&userdomain.User{},
		&credentialdomain.Account{},
		&instancedomain.Instance{},
		&apikeydomain.EditorKey{},
		&usagedomain.UsageBucket{},
		&pendingdomain.PendingDelivery{},
	}
}

// Migrate applies the versioned SQL migrations on postgres and falls back to
// AutoMigrate for mysql and sqlite, which are used for single-node and test setups.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() != db.TypePostgres {
		return conn.AutoMigrate(Models()...)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB.

	return nil
}
