// internal/nodeid/address.go
package nodeid

import (
	"strconv"
	"strings"
)

// String serializes the Address into its canonical string representation.
func (a Address) String() string {
	var sb strings.Builder
	sb.WriteString(a.Workflow)
	sb.WriteByte('/')
	sb.WriteString(a.Job)
	if a.HasIndex() {
		sb.WriteByte('[')
		sb.WriteString(strconv.Itoa(a.Index))
		sb.WriteByte(']')
	}
	return sb.String()
}

// Equal checks two addresses for equality.
func (a Address) Equal(other Address) bool {
	return a == other
}
