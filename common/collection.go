package common

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Collection designates the imagery collection to query, either by its public
// name (resolved by the catalog provider) or directly by a provider handle.
// Exactly one of the two fields is set after normalization.
type Collection struct {
	Name   string `json:"name,omitempty"`
	Handle string `json:"handle,omitempty"`
}

// CollectionByName returns a Collection to be resolved by name.
func CollectionByName(name string) Collection {
	return Collection{Name: name}
}

// CollectionHandle returns a Collection with a provider handle.
func CollectionHandle(handle string) Collection {
	return Collection{Handle: handle}
}

// IsZero returns true if neither name nor handle is set.
func (c Collection) IsZero() bool {
	return c.Name == "" && c.Handle == ""
}

// String returns the handle if set, else the name.
func (c Collection) String() string {
	if c.Handle != "" {
		return c.Handle
	}
	return c.Name
}

// UnmarshalJSON accepts either a bare string (a name) or the tagged form
// {"name": ...} / {"handle": ...}.
func (c *Collection) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Collection{Name: s}
		return nil
	}
	type collection Collection
	var v collection
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.Name != "" && v.Handle != "" {
		return InvalidInputf("collection: name and handle are mutually exclusive")
	}
	*c = Collection(v)
	return nil
}

// Bands is the ordered list of band identifiers of a request. JSON accepts a
// single string or a list of strings.
type Bands []string

// UnmarshalJSON implements the json.Unmarshaler interface
func (b *Bands) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*b = Bands{s}
		return nil
	}
	var l []string
	if err := json.Unmarshal(data, &l); err != nil {
		return err
	}
	*b = l
	return nil
}

// NormalizeBands trims the band names, rejecting empty lists and duplicates.
func NormalizeBands(bands Bands) (Bands, error) {
	normalized := make(Bands, 0, len(bands))
	seen := map[string]struct{}{}
	for _, b := range bands {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		if _, ok := seen[b]; ok {
			return nil, InvalidInputf("duplicated band %q", b)
		}
		seen[b] = struct{}{}
		normalized = append(normalized, b)
	}
	if len(normalized) == 0 {
		return nil, InvalidInputf("at least one band is required")
	}
	return normalized, nil
}

// Supported edge-size units
const (
	UnitPixel     = "px"
	UnitMeter     = "m"
	UnitKilometer = "km"
)

// EdgeSize is the requested edge of a footprint. JSON accepts a bare number
// (pixels) or a string with a unit: "512", "512px", "5000 m", "1.2km".
type EdgeSize struct {
	Value float64
	Unit  string
}

// ParseEdgeSize parses a textual edge size into a value and a unit.
// The unit defaults to pixels.
func ParseEdgeSize(s string) (EdgeSize, error) {
	s = strings.TrimSpace(s)
	i := strings.LastIndexAny(s, "0123456789.")
	if i == -1 {
		return EdgeSize{}, InvalidInputf("edge size %q: no numeric value", s)
	}
	v, err := strconv.ParseFloat(s[:i+1], 64)
	if err != nil {
		return EdgeSize{}, InvalidInputf("edge size %q: %v", s, err)
	}
	unit := strings.TrimSpace(s[i+1:])
	if unit == "" {
		unit = UnitPixel
	}
	return EdgeSize{Value: v, Unit: unit}, nil
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (e *EdgeSize) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		*e = EdgeSize{Value: v, Unit: UnitPixel}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseEdgeSize(s)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// MarshalJSON implements the json.Marshaler interface
func (e EdgeSize) MarshalJSON() ([]byte, error) {
	if e.Unit == "" || e.Unit == UnitPixel {
		return json.Marshal(e.Value)
	}
	return json.Marshal(fmt.Sprintf("%g %s", e.Value, e.Unit))
}

func (e EdgeSize) String() string {
	if e.Unit == "" || e.Unit == UnitPixel {
		return fmt.Sprintf("%g px", e.Value)
	}
	return fmt.Sprintf("%g %s", e.Value, e.Unit)
}
