package main

import (
	"crypto/tls"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/urfave/cli/v2"

	"consumo/migrations"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using existing environment variables")
	}

	app := &cli.App{
		Name:  "migrate",
		Usage: "manage the ClickHouse readings journal schema",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Value: "localhost", EnvVars: []string{"CLICKHOUSE_HOST"}},
			&cli.IntFlag{Name: "port", Value: 9000, EnvVars: []string{"CLICKHOUSE_PORT"}},
			&cli.StringFlag{Name: "database", Value: "default", EnvVars: []string{"CLICKHOUSE_DATABASE"}},
			&cli.StringFlag{Name: "user", Value: "default", EnvVars: []string{"CLICKHOUSE_USER"}},
			&cli.StringFlag{Name: "password", EnvVars: []string{"CLICKHOUSE_PASSWORD"}},
			&cli.BoolFlag{Name: "tls", EnvVars: []string{"CLICKHOUSE_USE_TLS"}},
		},
		Commands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "apply all pending migrations",
				Action: withDB(func(db *sql.DB) error { return goose.Up(db, ".") }, "Migrations completed successfully"),
			},
			{
				Name:   "down",
				Usage:  "roll back the latest migration",
				Action: withDB(func(db *sql.DB) error { return goose.Down(db, ".") }, "Rollback completed successfully"),
			},
			{
				Name:   "status",
				Usage:  "print the status of every migration",
				Action: withDB(func(db *sql.DB) error { return goose.Status(db, ".") }, ""),
			},
			{
				Name:  "version",
				Usage: "print the current schema version",
				Action: withDB(func(db *sql.DB) error {
					version, err := goose.GetDBVersion(db)
					if err != nil {
						return err
					}
					log.Printf("Current migration version: %d", version)
					return nil
				}, ""),
			},
			{
				Name:      "create",
				Usage:     "create a new SQL migration file",
				ArgsUsage: "<migration_name>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dir", Value: "./migrations", Usage: "migrations source directory"},
				},
				Action: func(c *cli.Context) error {
					name := c.Args().First()
					if name == "" {
						return cli.Exit("Usage: migrate create <migration_name>", 1)
					}
					if err := goose.Create(nil, c.String("dir"), name, "sql"); err != nil {
						return fmt.Errorf("failed to create migration: %w", err)
					}
					log.Printf("Created migration: %s", name)
					return nil
				},
			},
		},
		DefaultCommand: "up",
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// withDB opens ClickHouse, points goose at the embedded migrations and runs fn
func withDB(fn func(db *sql.DB) error, success string) cli.ActionFunc {
	return func(c *cli.Context) error {
		options := &clickhouse.Options{
			Addr: []string{fmt.Sprintf("%s:%d", c.String("host"), c.Int("port"))},
			Auth: clickhouse.Auth{
				Database: c.String("database"),
				Username: c.String("user"),
				Password: c.String("password"),
			},
			DialTimeout: 10 * time.Second,
			Settings: clickhouse.Settings{
				"max_execution_time": 60,
			},
		}
		if c.Bool("tls") {
			options.TLS = &tls.Config{}
		}

		db := clickhouse.OpenDB(options)
		defer db.Close()

		// Test connection
		if err := db.Ping(); err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}
		log.Println("Connected to ClickHouse successfully")

		goose.SetBaseFS(migrations.FS)
		if err := goose.SetDialect("clickhouse"); err != nil {
			return fmt.Errorf("failed to set dialect: %w", err)
		}

		log.Printf("Running migrations: %s", c.Command.Name)
		if err := fn(db); err != nil {
			return fmt.Errorf("%s failed: %w", c.Command.Name, err)
		}
		if success != "" {
			log.Println(success)
		}
		return nil
	}
}
