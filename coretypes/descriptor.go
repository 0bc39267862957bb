package coretypes

import "fmt"

// BlockDescriptor is the canonical lightweight block identifier: a hash
// paired with its level, used everywhere a full body would be wasteful
// (checkpoint, savepoint, caboose, target, current_head, alternate_heads).
type BlockDescriptor struct {
	Hash  BlockHash `json:"hash"`
	Level int32     `json:"level"`
}

func (d BlockDescriptor) String() string {
	return fmt.Sprintf("%s@%d", d.Hash.String(), d.Level)
}

// IsZero reports whether d is the zero descriptor (no block).
func (d BlockDescriptor) IsZero() bool {
	return d.Hash.IsZero() && d.Level == 0
}
