package main

// Exit codes
const (
	ExitSuccess     = 0 // Success
	ExitError       = 1 // General error (invalid arguments, runtime failure)
	ExitConfigError = 2 // Configuration error (no repository, missing codebook or secrets)
	ExitDataError   = 3 // Data error (malformed workbook, unknown note or category)

	// LLM exit codes
	ExitLLMAuthError = 4 // Missing or rejected LLM API key
	ExitLLMAPIError  = 5 // Provider error (rate limit, every batch failed)
)
