// internal/config/database.go
package config

import (
	"fmt"
)

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// InMemory reports whether the process should run against the in-memory store.
func (d *DatabaseConfig) InMemory() bool {
	return d.Driver == "memory"
}
