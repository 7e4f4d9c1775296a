package querysql

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/google/uuid"

	"github.com/roach88/repokit/internal/repoerr"
)

// IDFormat constrains the identifiers of a table.
type IDFormat string

const (
	// IDAny accepts any non-empty id and lets storage assign new ones.
	IDAny IDFormat = "any"

	// IDInteger requires base-10 integer ids (auto-increment keys).
	IDInteger IDFormat = "integer"

	// IDUUID requires RFC 4122 uuids; new rows get a UUIDv7.
	IDUUID IDFormat = "uuid"
)

// Table describes one relational table reachable from a repository.
type Table struct {
	// Name is the table name in the database.
	Name string

	// IDColumn is the primary key column. Defaults to "id".
	IDColumn string

	// IDFormat defaults to IDAny.
	IDFormat IDFormat

	// Columns lists every selectable column, including IDColumn.
	Columns []string

	// Relations maps relation names to joins.
	Relations map[string]Join
}

// Join describes how a related table attaches to its parent:
//
//	child.ForeignKey = parent.LocalKey
//
// For a belongs-to relation (pet.owner) LocalKey is the parent's reference
// column ("owner_id") and ForeignKey the child's key ("id"). For a has-many
// relation (owner.pets) it is the other way round and Many is true.
type Join struct {
	Table      *Table
	LocalKey   string
	ForeignKey string
	Many       bool
}

// ID returns the primary key column.
func (t *Table) ID() string {
	if t.IDColumn == "" {
		return "id"
	}
	return t.IDColumn
}

// Format returns the id format, defaulting to IDAny.
func (t *Table) Format() IDFormat {
	if t.IDFormat == "" {
		return IDAny
	}
	return t.IDFormat
}

// HasColumn reports whether name is a known column.
func (t *Table) HasColumn(name string) bool {
	return name == t.ID() || slices.Contains(t.Columns, name)
}

// SelectColumns returns the columns in select order: the id first, then the
// remaining columns in declaration order.
func (t *Table) SelectColumns() []string {
	cols := []string{t.ID()}
	for _, c := range t.Columns {
		if c != t.ID() {
			cols = append(cols, c)
		}
	}
	return cols
}

// Validate checks the table and every table reachable through relations.
func (t *Table) Validate() error {
	return t.validate(map[*Table]bool{})
}

func (t *Table) validate(seen map[*Table]bool) error {
	if seen[t] {
		return nil
	}
	seen[t] = true

	if t.Name == "" {
		return fmt.Errorf("table has no name")
	}
	switch t.Format() {
	case IDAny, IDInteger, IDUUID:
	default:
		return fmt.Errorf("table %q: unknown id format %q", t.Name, t.IDFormat)
	}
	for name, j := range t.Relations {
		if j.Table == nil {
			return fmt.Errorf("table %q: relation %q has no table", t.Name, name)
		}
		if !t.HasColumn(j.LocalKey) {
			return fmt.Errorf("table %q: relation %q local key %q is not a column", t.Name, name, j.LocalKey)
		}
		if !j.Table.HasColumn(j.ForeignKey) {
			return fmt.Errorf("table %q: relation %q foreign key %q is not a column of %q", t.Name, name, j.ForeignKey, j.Table.Name)
		}
		if err := j.Table.validate(seen); err != nil {
			return err
		}
	}
	return nil
}

// ValidateID checks id against the table's id format.
func (t *Table) ValidateID(id string) error {
	switch t.Format() {
	case IDInteger:
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			return repoerr.InvalidIdentifierFormat(id, "expected an integer")
		}
	case IDUUID:
		if _, err := uuid.Parse(id); err != nil {
			return repoerr.InvalidIdentifierFormat(id, "expected a uuid")
		}
	}
	return nil
}

// idParam converts a textual id to the parameter type of the id column.
func (t *Table) idParam(v any) any {
	s, ok := v.(string)
	if !ok || t.Format() != IDInteger {
		return v
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	return v
}
