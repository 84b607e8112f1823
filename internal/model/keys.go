package model

import (
	"fmt"
	"strings"
)

// Role identifies which norm→linear junction of a block a group covers.
type Role int

// Supported roles.
const (
	// RoleQKVInput is the attention-input norm feeding the query/key/value projections.
	RoleQKVInput Role = iota
	// RoleFFNInput is the feed-forward-input norm feeding the first MLP projection(s).
	RoleFFNInput
)

// Roles lists every role in block order.
var Roles = []Role{RoleQKVInput, RoleFFNInput}

// String returns the short role name used in configs and logs.
func (r Role) String() string {
	switch r {
	case RoleQKVInput:
		return "qkv"
	case RoleFFNInput:
		return "ffn"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole converts "qkv" or "ffn" to a Role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "qkv", "attn", "attention":
		return RoleQKVInput, nil
	case "ffn", "mlp", "fc1":
		return RoleFFNInput, nil
	default:
		return 0, fmt.Errorf("unknown role %q (expected qkv or ffn)", s)
	}
}

// ScaleKey identifies the activation statistics a group needs.
type ScaleKey struct {
	Block int
	Role  Role
}

// String implements fmt.Stringer.
func (k ScaleKey) String() string {
	return fmt.Sprintf("block %d %s", k.Block, k.Role)
}
