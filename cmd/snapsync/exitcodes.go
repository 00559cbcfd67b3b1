package main

// Exit codes.
const (
	ExitSuccess     = 0 // Success (including no-op syncs)
	ExitError       = 1 // General error (invalid arguments, runtime failure)
	ExitConfigError = 2 // Configuration error (missing workspace, invalid config)
	ExitAuthError   = 3 // Missing or rejected GitHub token
	ExitConflict    = 4 // Branch moved concurrently, retries exhausted
	ExitRateLimited = 5 // Rate limit wait exceeded the ceiling
)
