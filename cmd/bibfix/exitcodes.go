package main

// Exit codes for agent-friendly error handling
const (
	ExitSuccess     = 0 // Success
	ExitError       = 1 // General error, including runs where no record was finalized
	ExitConfigError = 2 // Configuration error (bad flag value, unwritable config)
	ExitDataError   = 3 // Data error (unreadable input, no records found)
)
