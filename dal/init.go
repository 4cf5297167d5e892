package dal

import (
	"context"
	"fmt"
	"net"

	"github.com/abesuite/airdrop-ledger/dal/do"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DBTypeMySQL    = "mysql"
	DBTypePostgres = "postgres"
	DBTypeSQLite   = "sqlite"
)

var GlobalDBClient *gorm.DB

func GetDB(ctx context.Context) *gorm.DB {
	return GlobalDBClient.WithContext(ctx)
}

type DBConfig struct {
	Type     string
	Username string
	Password string
	// Address including the ip address and port of database (e.g. 127.0.0.1:3306).
	// Ignored for sqlite.
	Address string
	// DatabaseName is the schema name, or the database file for sqlite.
	DatabaseName string
}

func InitDB(cfg *DBConfig, autoCreate bool) error {
	if autoCreate {
		err := CreateDatabase(cfg)
		if err != nil {
			return err
		}
		err = CreateTables(cfg)
		if err != nil {
			return err
		}
	}

	log.Infof("Connecting to %v database %v at %v...", cfg.Type, cfg.DatabaseName, cfg.Address)

	db, err := Open(cfg, true)
	if err != nil {
		return err
	}

	GlobalDBClient = db

	log.Infof("Successfully connect to database")

	return nil
}

// Open opens a gorm handle for cfg.  withDatabase selects the configured
// database; without it the handle points at the server so the database can
// be created.
func Open(cfg *DBConfig, withDatabase bool) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg, withDatabase)
	if err != nil {
		return nil, err
	}
	return gorm.Open(dialector, &gorm.Config{})
}

func dialectorFor(cfg *DBConfig, withDatabase bool) (gorm.Dialector, error) {
	switch cfg.Type {
	case DBTypeMySQL, "":
		dbName := ""
		if withDatabase {
			dbName = cfg.DatabaseName
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=Local", cfg.Username, cfg.Password,
			cfg.Address, dbName)
		return mysql.Open(dsn), nil

	case DBTypePostgres:
		host, port, err := net.SplitHostPort(cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("invalid postgres address %v: %v", cfg.Address, err)
		}
		dbName := "postgres"
		if withDatabase {
			dbName = cfg.DatabaseName
		}
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			host, port, cfg.Username, cfg.Password, dbName)
		return postgres.Open(dsn), nil

	case DBTypeSQLite:
		return sqlite.Open(cfg.DatabaseName), nil
	}
	return nil, fmt.Errorf("unsupported database type %v", cfg.Type)
}

func CreateDatabase(cfg *DBConfig) error {
	if cfg.Type == DBTypeSQLite {
		// The database file is created on first open.
		return nil
	}

	log.Infof("Creating database %s...", cfg.DatabaseName)

	db, err := Open(cfg, false)
	if err != nil {
		return err
	}

	if cfg.Type == DBTypePostgres {
		var count int64
		err = db.Raw("SELECT count(*) FROM pg_database WHERE datname = ?", cfg.DatabaseName).Scan(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		err = db.Exec(fmt.Sprintf("CREATE DATABASE \"%s\";", cfg.DatabaseName)).Error
	} else {
		err = db.Exec(fmt.Sprintf(
			"CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4;",
			cfg.DatabaseName,
		)).Error
	}
	if err != nil {
		log.Infof("Unable to create database %s...", cfg.DatabaseName)
		return err
	}
	return nil
}

func CreateTables(cfg *DBConfig) error {
	db, err := Open(cfg, true)
	if err != nil {
		return err
	}
	return CreateTablesWithDB(db)
}

// CreateTablesWithDB migrates the ledger tables on an already opened handle.
func CreateTablesWithDB(db *gorm.DB) error {
	log.Infof("Creating table allocation_proof_infos...")
	err := db.AutoMigrate(&do.AllocationProofInfo{})
	if err != nil {
		log.Infof("Fail to create table allocation_proof_infos")
		return err
	}

	log.Infof("Creating table grant_infos...")
	err = db.AutoMigrate(&do.GrantInfo{})
	if err != nil {
		log.Infof("Fail to create table grant_infos")
		return err
	}
	return nil
}
