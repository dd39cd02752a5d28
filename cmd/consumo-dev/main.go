package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	clickhouseTC "github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"consumo/internal/app"
	"consumo/migrations"
)

// Well-known Azurite development credentials
const (
	azuriteAccount = "devstoreaccount1"
	azuriteKey     = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="
)

func main() {
	ctx := context.Background()

	log.Println("Starting Azurite testcontainer...")

	azurite, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mcr.microsoft.com/azure-storage/azurite:3.33.0",
			Cmd:          []string{"azurite-table", "--tableHost", "0.0.0.0", "--tablePort", "10002", "--skipApiVersionCheck"},
			ExposedPorts: []string{"10002/tcp"},
			WaitingFor:   wait.ForListeningPort("10002/tcp"),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start Azurite container: %v", err)
	}
	defer func() {
		log.Println("Stopping Azurite container...")
		if err := azurite.Terminate(ctx); err != nil {
			log.Printf("Failed to terminate container: %v", err)
		}
	}()

	azuriteHost, err := azurite.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get Azurite host: %v", err)
	}
	azuritePort, err := azurite.MappedPort(ctx, "10002/tcp")
	if err != nil {
		log.Fatalf("Failed to get Azurite port: %v", err)
	}
	log.Printf("Azurite started at %s:%s", azuriteHost, azuritePort.Port())

	log.Println("Starting ClickHouse testcontainer...")

	clickhouseContainer, err := clickhouseTC.Run(ctx,
		"clickhouse/clickhouse-server:24.3.3.102-alpine",
		clickhouseTC.WithUsername("default"),
		clickhouseTC.WithPassword("devpassword"),
		clickhouseTC.WithDatabase("default"),
	)
	if err != nil {
		log.Fatalf("Failed to start ClickHouse container: %v", err)
	}
	defer func() {
		log.Println("Stopping ClickHouse container...")
		if err := clickhouseContainer.Terminate(ctx); err != nil {
			log.Printf("Failed to terminate container: %v", err)
		}
	}()

	chHost, err := clickhouseContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get ClickHouse host: %v", err)
	}
	chPort, err := clickhouseContainer.MappedPort(ctx, "9000/tcp")
	if err != nil {
		log.Fatalf("Failed to get ClickHouse port: %v", err)
	}
	log.Printf("ClickHouse started at %s:%s", chHost, chPort.Port())

	if err := migrate(chHost, chPort.Port()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Set environment variables for the application
	os.Setenv("STORAGE_BACKEND", "azure")
	os.Setenv("AZURE_STORAGE_ACCOUNT", azuriteAccount)
	os.Setenv("AZURE_STORAGE_KEY", azuriteKey)
	os.Setenv("AZURE_TABLE_NAME", "consumo")
	os.Setenv("AZURE_TABLE_ENDPOINT", fmt.Sprintf("http://%s:%s/%s", azuriteHost, azuritePort.Port(), azuriteAccount))
	os.Setenv("CLICKHOUSE_HOST", chHost)
	os.Setenv("CLICKHOUSE_PORT", chPort.Port())
	os.Setenv("CLICKHOUSE_DATABASE", "default")
	os.Setenv("CLICKHOUSE_USER", "default")
	os.Setenv("CLICKHOUSE_PASSWORD", "devpassword")
	os.Setenv("CLICKHOUSE_USE_TLS", "false")
	os.Setenv("WEBHOOK_MODE", "false")
	if os.Getenv("LOG_FORMAT") == "" {
		os.Setenv("LOG_FORMAT", "console")
	}
	if os.Getenv("LOG_LEVEL") == "" {
		os.Setenv("LOG_LEVEL", "debug")
	}

	// Set PORT for HTTP server if not already set
	if os.Getenv("PORT") == "" {
		os.Setenv("PORT", "8080")
	}

	// Ensure TELEGRAM_BOT_TOKEN and TELEGRAM_ALLOWED_USERS are set
	if os.Getenv("TELEGRAM_BOT_TOKEN") == "" {
		log.Println("⚠️  TELEGRAM_BOT_TOKEN not set. Please set it in your .env file or environment.")
		log.Println("   The bot will fail to start without a valid token.")
	}

	if os.Getenv("TELEGRAM_ALLOWED_USERS") == "" {
		log.Println("⚠️  TELEGRAM_ALLOWED_USERS not set. Please set it in your .env file or environment.")
		log.Println("   The bot will not accept any commands without allowed user IDs.")
	}

	log.Println("Starting application with Azurite storage and ClickHouse journal...")
	fmt.Println()

	application, err := app.New()
	if err != nil {
		log.Printf("Failed to create application: %v", err)
		return
	}

	// Run blocks until SIGINT/SIGTERM, then the deferred container cleanup runs
	if err := application.Run(); err != nil {
		log.Printf("Application error: %v", err)
	}
}

// migrate applies the embedded journal migrations
func migrate(host, port string) error {
	db := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", host, port)},
		Auth: clickhouse.Auth{Database: "default", Username: "default", Password: "devpassword"},
	})
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("clickhouse"); err != nil {
		return err
	}
	return goose.Up(db, ".")
}
