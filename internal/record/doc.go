package record

// Package record persists execution history.
//
// It currently supports:
//   - In-memory history (default; tests and throwaway runs)
//   - SQLite history (survives restarts, so open executions from a prior
//     process lifetime can still be completed or timed out)
