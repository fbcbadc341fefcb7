package store

import (
	"strings"
	"time"
)

// timeLayout matches SQLite's CURRENT_TIMESTAMP so stored timestamps compare
// and sort as text.
const timeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func idArgs(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

const maxIDsPerStatement = 500

func chunkIDs(ids []int64) [][]int64 {
	var chunks [][]int64
	for len(ids) > maxIDsPerStatement {
		chunks = append(chunks, ids[:maxIDsPerStatement])
		ids = ids[maxIDsPerStatement:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}
