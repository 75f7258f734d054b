package file

import (
	"fmt"

	"github.com/google/uuid"
)

// Identifier names an open handle tree. It is comparable and stays
// printable after the tree closes, but Valid reports false as soon as
// the owning File is closed.
type Identifier struct {
	uid  uuid.UUID
	file *File
	gen  uint64
}

// UUID returns the unique id assigned to the owning File when it was
// opened. Two Files on the same container path get distinct ids.
func (i Identifier) UUID() string { return i.uid.String() }

// Valid reports whether the owning File is still open and this
// identifier's generation is current.
func (i Identifier) Valid() bool {
	if i.file == nil {
		return false
	}
	return i.file.aliveGen(i.gen)
}

// String implements fmt.Stringer.
func (i Identifier) String() string {
	return fmt.Sprintf("%s#%d", i.uid, i.gen)
}
