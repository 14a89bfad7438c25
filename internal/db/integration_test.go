//go:build integration

package db

import (
	"os"
	"strconv"
	"testing"

	"github.com/cooldog631-ai/aim-bot/internal/config"
	"github.com/cooldog631-ai/aim-bot/internal/models"
)

// mysqlConfig reads the test server from AIM_TEST_MYSQL_{HOST,PORT,USER,PASSWORD,NAME}.
func mysqlConfig(t *testing.T) config.DatabaseConfig {
	t.Helper()
	host := os.Getenv("AIM_TEST_MYSQL_HOST")
	if host == "" {
		t.Skip("AIM_TEST_MYSQL_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("AIM_TEST_MYSQL_PORT"))
	if port == 0 {
		port = 3306
	}
	name := os.Getenv("AIM_TEST_MYSQL_NAME")
	if name == "" {
		name = "aim_bot_test"
	}
	return config.DatabaseConfig{
		Driver:   "mysql",
		Host:     host,
		Port:     port,
		Name:     name,
		User:     os.Getenv("AIM_TEST_MYSQL_USER"),
		Password: os.Getenv("AIM_TEST_MYSQL_PASSWORD"),
	}
}

func TestIntegration_MySQLAutoMigrate(t *testing.T) {
	gdb, err := Connect(mysqlConfig(t))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	for _, tc := range []struct {
		model  interface{}
		column string
	}{
		{&models.Employee{}, "platform"},
		{&models.Report{}, "fields"},
		{&models.Report{}, "report_date"},
		{&models.IntakeSession{}, "outcome"},
	} {
		if !gdb.Migrator().HasColumn(tc.model, tc.column) {
			t.Errorf("%T missing column %s", tc.model, tc.column)
		}
	}
}
