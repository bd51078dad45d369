package aggregation

// Shared with the external loader tests, which need the sqlite schema and so
// cannot live in this package.
var (
	NewTestTransaction = tx
	Day1               = day1
)
