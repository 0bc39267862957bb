package coretypes

import "fmt"

type hashLengthError int

func (e hashLengthError) Error() string {
	return fmt.Sprintf("invalid hash length: got %d bytes, want %d", int(e), hashLength)
}

func errWrongHashLength(n int) error { return hashLengthError(n) }
