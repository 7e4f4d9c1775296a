package ir

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// FilterContract is the caller-facing description of a read.
//
// Where maps field names to encoded filter values, OrderBy lists sort terms in
// the order the caller wrote them, and Includes names related records to load
// alongside the root. An absent IsInternalRequest means the contract is
// trusted; only an explicit false subjects it to the whitelist.
type FilterContract struct {
	Where             Where     `json:"where,omitempty" yaml:"where,omitempty"`
	OrderBy           OrderBy   `json:"orderBy,omitempty" yaml:"orderBy,omitempty"`
	Includes          []Include `json:"includes,omitempty" yaml:"includes,omitempty"`
	IsInternalRequest *bool     `json:"isInternalRequest,omitempty" yaml:"isInternalRequest,omitempty"`
}

// Internal reports whether the contract bypasses the whitelist.
func (c FilterContract) Internal() bool {
	return c.IsInternalRequest == nil || *c.IsInternalRequest
}

// External returns a copy of c marked as coming from an untrusted caller.
func (c FilterContract) External() FilterContract {
	f := false
	c.IsInternalRequest = &f
	return c
}

// Include is one related-record request. Its own filter applies to the
// related records only, never to the parent.
type Include struct {
	Relation       string `json:"relation" yaml:"relation"`
	FilterContract `yaml:",inline"`
}

// Where maps field names to encoded values.
type Where map[string]Value

// Fields returns the where keys in canonical order.
func (w Where) Fields() []string {
	return SortedKeys(w)
}

// UnmarshalJSON implements json.Unmarshaler for Where.
func (w *Where) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*w = make(Where, len(raw))
	for k, v := range raw {
		val, err := unmarshalValue(v)
		if err != nil {
			return fmt.Errorf("where %q: %w", k, err)
		}
		(*w)[k] = val
	}
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler for Where.
func (w *Where) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: where must be a mapping", node.Line)
	}

	*w = make(Where, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val, err := valueFromYAML(node.Content[i+1])
		if err != nil {
			return fmt.Errorf("where %q: %w", key, err)
		}
		(*w)[key] = val
	}
	return nil
}

// OrderTerm is one sort instruction as written by the caller. Direction is
// not validated here.
type OrderTerm struct {
	Field     string
	Direction string
}

// OrderBy is an ordered list of sort terms. It is written as an object
// ({"name": "asc", "age": "desc"}) and keeps the key order of the document.
type OrderBy []OrderTerm

// MarshalJSON implements json.Marshaler for OrderBy.
func (o OrderBy) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, term := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(term.Field)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(term.Direction)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler for OrderBy, preserving key order.
func (o *OrderBy) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*o = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("orderBy must be an object")
	}

	terms := OrderBy{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)

		var dir string
		if err := dec.Decode(&dir); err != nil {
			return fmt.Errorf("orderBy %q: %w", key, err)
		}
		terms = append(terms, OrderTerm{Field: key, Direction: dir})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*o = terms
	return nil
}

// MarshalYAML implements yaml.Marshaler for OrderBy.
func (o OrderBy) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, term := range o {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: term.Field},
			&yaml.Node{Kind: yaml.ScalarNode, Value: term.Direction},
		)
	}
	return node, nil
}

// UnmarshalYAML implements yaml.Unmarshaler for OrderBy, preserving key order.
func (o *OrderBy) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: orderBy must be a mapping", node.Line)
	}

	terms := make(OrderBy, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: orderBy %q must be a direction", val.Line, key.Value)
		}
		terms = append(terms, OrderTerm{Field: key.Value, Direction: val.Value})
	}
	*o = terms
	return nil
}

// ParseContract decodes a contract from JSON or YAML. YAML is a superset of
// JSON, so both formats go through yaml.v3.
func ParseContract(data []byte) (FilterContract, error) {
	var c FilterContract
	if err := yaml.Unmarshal(data, &c); err != nil {
		return FilterContract{}, fmt.Errorf("parse contract: %w", err)
	}
	return c, nil
}
