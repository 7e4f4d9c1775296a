package mongorepo

import (
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/roach88/repokit/internal/repoerr"
)

// IDFormat constrains the _id values of a collection.
type IDFormat string

const (
	// IDObjectID requires 24-character hex ids stored as ObjectIDs.
	IDObjectID IDFormat = "objectid"

	// IDString accepts any non-empty string id.
	IDString IDFormat = "string"
)

// FieldKind is the stored BSON type of a field. The driver does no schema
// casting, so filter text aimed at a typed field is converted to the
// field's kind before it reaches the query.
type FieldKind string

const (
	KindString  FieldKind = "string"
	KindInteger FieldKind = "integer"
	KindNumber  FieldKind = "number"
	KindBoolean FieldKind = "boolean"
	KindDate    FieldKind = "date"
)

// Model describes a collection reachable from a repository.
type Model struct {
	// Collection is the collection name.
	Collection string

	// IDFormat defaults to IDObjectID.
	IDFormat IDFormat

	// Fields declares the kinds of typed fields. Undeclared fields are
	// compared as given.
	Fields map[string]FieldKind

	// Relations maps relation names to population rules.
	Relations map[string]Relation
}

// Relation populates related documents:
//
//	child.ForeignField = parent.LocalField
//
// "id" on either side means "_id".
type Relation struct {
	Model        *Model
	LocalField   string
	ForeignField string
	Many         bool
}

// Format returns the id format, defaulting to IDObjectID.
func (m *Model) Format() IDFormat {
	if m.IDFormat == "" {
		return IDObjectID
	}
	return m.IDFormat
}

// Validate checks the model and every model reachable through relations.
func (m *Model) Validate() error {
	return m.validate(map[*Model]bool{})
}

func (m *Model) validate(seen map[*Model]bool) error {
	if seen[m] {
		return nil
	}
	seen[m] = true

	if m.Collection == "" {
		return fmt.Errorf("model has no collection")
	}
	switch m.Format() {
	case IDObjectID, IDString:
	default:
		return fmt.Errorf("collection %q: unknown id format %q", m.Collection, m.IDFormat)
	}
	for name, kind := range m.Fields {
		switch kind {
		case KindString, KindInteger, KindNumber, KindBoolean, KindDate:
		default:
			return fmt.Errorf("collection %q: field %q has unknown kind %q", m.Collection, name, kind)
		}
	}
	for name, rel := range m.Relations {
		if rel.Model == nil {
			return fmt.Errorf("collection %q: relation %q has no model", m.Collection, name)
		}
		if rel.LocalField == "" || rel.ForeignField == "" {
			return fmt.Errorf("collection %q: relation %q needs local and foreign fields", m.Collection, name)
		}
		if err := rel.Model.validate(seen); err != nil {
			return err
		}
	}
	return nil
}

// ValidateID checks id against the id format.
func (m *Model) ValidateID(id string) error {
	if m.Format() != IDObjectID {
		return nil
	}
	if _, err := primitive.ObjectIDFromHex(id); err != nil {
		return repoerr.InvalidIdentifierFormat(id, "expected a 24 character hex object id")
	}
	return nil
}

// idValue converts an id to its stored form.
func (m *Model) idValue(v any) (any, error) {
	s, ok := v.(string)
	if !ok || m.Format() != IDObjectID {
		return v, nil
	}
	oid, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return nil, repoerr.InvalidIdentifierFormat(s, "expected a 24 character hex object id")
	}
	return oid, nil
}

// cast converts filter text to the declared kind of field. Non-text values
// and undeclared fields pass through.
func (m *Model) cast(field string, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}

	switch m.Fields[field] {
	case KindInteger:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, repoerr.InvalidFilterValue(field, fmt.Sprintf("%q is not an integer", s))
		}
		return n, nil
	case KindNumber:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, repoerr.InvalidFilterValue(field, fmt.Sprintf("%q is not a number", s))
		}
		return f, nil
	case KindBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, repoerr.InvalidFilterValue(field, fmt.Sprintf("%q is not a boolean", s))
		}
		return b, nil
	case KindDate:
		for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return nil, repoerr.InvalidFilterValue(field, fmt.Sprintf("%q is not an RFC 3339 time or date", s))
	}
	return s, nil
}

// storedField maps a contract field to its document field.
func storedField(name string) string {
	if name == "id" {
		return "_id"
	}
	return name
}
