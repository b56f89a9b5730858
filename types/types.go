package types

// AppType specifies app type.
type AppType string

// Ledger AppType enums.
const (
	Ledger AppType = "ledger"
)

// SysVar specifies the system variables.
type SysVar string

// SysVarSchemaVersion SysVar enums.
const (
	SysVarSchemaVersion SysVar = "schema_version"
)
