package database

import (
	"testing"

	"github.com/michaelmcclelland/orderflow/internal/config"
)

func TestPoolConfig(t *testing.T) {
	t.Parallel()
	cfg := config.PostgresConfig{
		Host:     "db",
		Port:     5433,
		User:     "orderflow",
		Password: "secret",
		Database: "orders",
		MaxConns: 8,
		MinConns: 2,
	}

	poolCfg, err := poolConfig(cfg, "orderflow-consumer")
	if err != nil {
		t.Fatalf("poolConfig: %v", err)
	}
	if poolCfg.MaxConns != 8 || poolCfg.MinConns != 2 {
		t.Errorf("conns = max %d min %d, want 8 and 2", poolCfg.MaxConns, poolCfg.MinConns)
	}
	if poolCfg.HealthCheckPeriod != healthCheckPeriod {
		t.Errorf("HealthCheckPeriod = %v, want %v", poolCfg.HealthCheckPeriod, healthCheckPeriod)
	}
	if got := poolCfg.ConnConfig.RuntimeParams["application_name"]; got != "orderflow-consumer" {
		t.Errorf("application_name = %q, want orderflow-consumer", got)
	}
	if poolCfg.ConnConfig.Host != "db" || poolCfg.ConnConfig.Port != 5433 {
		t.Errorf("host = %s:%d, want db:5433", poolCfg.ConnConfig.Host, poolCfg.ConnConfig.Port)
	}
	if poolCfg.ConnConfig.Database != "orders" {
		t.Errorf("database = %q, want orders", poolCfg.ConnConfig.Database)
	}
}

func TestPoolConfig_ZeroMinConnsKeepsDefault(t *testing.T) {
	t.Parallel()
	cfg := config.PostgresConfig{Host: "db", Port: 5432, User: "u", Database: "d", MaxConns: 4}

	poolCfg, err := poolConfig(cfg, "")
	if err != nil {
		t.Fatalf("poolConfig: %v", err)
	}
	if poolCfg.MinConns != 0 {
		t.Errorf("MinConns = %d, want 0", poolCfg.MinConns)
	}
	if _, ok := poolCfg.ConnConfig.RuntimeParams["application_name"]; ok {
		t.Error("application_name should be unset for an empty app name")
	}
}
