package ir

// Version constants for the ledger schema and engine.
const (
	// LedgerFormatVersion is the version of the persisted record layout.
	LedgerFormatVersion = "1"

	// EngineVersion is the trisync engine version.
	EngineVersion = "0.1.0"
)
