package config

// Audit backends.
const (
	AuditMemory = "memory"
	AuditSQLite = "sqlite"
	AuditRQLite = "rqlite"
)

// AuditConfig selects where conflicts, health transitions and late replica
// answers are appended.
type AuditConfig struct {
	Backend string `yaml:"backend"` // memory, sqlite, rqlite
	DSN     string `yaml:"dsn"`     // sqlite path or rqlite URL
}
