package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// IndexCreated is the payload of an "$$indexCreated" persisted log record.
type IndexCreated struct {
	FieldNames  []string `json:"fieldNames"                   gedb:"fieldNames"`
	Unique      bool     `json:"unique,omitempty"             gedb:"unique,omitzero"`
	Sparse      bool     `json:"sparse,omitempty"             gedb:"sparse,omitzero"`
	ExpireAfter float64  `json:"expireAfterSeconds,omitempty" gedb:"expireAfterSeconds,omitzero"`
	HasExpiry   bool     `json:"-"                            gedb:"-"`
}

// IndexDTO is either an index-creation or an index-removal record,
// depending on which field is set.
type IndexDTO struct {
	Created      *IndexCreated
	RemovedField string
}

// IndexKey joins a compound index's field names into the single map key
// used both as the map key in a loaded index table and as the persisted
// "$$indexRemoved" value.
func IndexKey(fieldNames []string) string {
	return strings.Join(fieldNames, ",")
}

// MarshalJSON implements [json.Marshaler], writing the record as either an
// "$$indexCreated" or "$$indexRemoved" sentinel object.
func (dto IndexDTO) MarshalJSON() ([]byte, error) {
	if dto.Created != nil {
		return json.Marshal(map[string]any{"$$indexCreated": dto.Created})
	}
	return json.Marshal(map[string]any{"$$indexRemoved": dto.RemovedField})
}

// UnmarshalJSON implements [json.Unmarshaler].
func (dto *IndexDTO) UnmarshalJSON(b []byte) error {
	var raw struct {
		IndexCreated *IndexCreated `json:"$$indexCreated"`
		IndexRemoved *string       `json:"$$indexRemoved"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch {
	case raw.IndexCreated != nil:
		raw.IndexCreated.HasExpiry = raw.IndexCreated.ExpireAfter != 0
		dto.Created = raw.IndexCreated
	case raw.IndexRemoved != nil:
		dto.RemovedField = *raw.IndexRemoved
	default:
		return fmt.Errorf("%w: neither $$indexCreated nor $$indexRemoved present", ErrCorruptDatafile)
	}
	return nil
}
