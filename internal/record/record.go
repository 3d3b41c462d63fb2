package record

// Record is one membership-request row.
//
// Identity is zero when RawIdentity did not parse; such records are invalid
// and excluded from every pipeline.
type Record struct {
	ID          string
	Identity    Identity
	RawIdentity string
	Handle      string
	DisplayName string
	Status      Status
}

// Valid reports whether the record carries a usable identity.
func (r Record) Valid() bool {
	return r.ID != "" && r.Identity.Valid()
}

// Key returns the normalized identity used for ledger and duplicate lookups.
func (r Record) Key() string {
	return r.Identity.String()
}

// New builds a record from raw field values, normalizing identity and handle.
func New(id string, rawIdentity any, handle, displayName string, status Status) Record {
	r := Record{
		ID:          id,
		RawIdentity: NormalizeIdentity(rawIdentity),
		Handle:      NormalizeHandle(handle),
		DisplayName: displayName,
		Status:      status,
	}
	if ident, err := ParseIdentity(r.RawIdentity); err == nil {
		r.Identity = ident
	}
	return r
}

// DoubleMarker derives the collision-safe identity written to a record that
// was redirected to double. The record ID keeps markers unique when several
// duplicates of the same identity exist, and the prefix makes the value
// non-numeric so the record never matches an identity lookup again.
func DoubleMarker(prefix string, r Record) string {
	if prefix == "" {
		prefix = DefaultDoublePrefix
	}
	return prefix + r.RawIdentity + "_" + r.ID
}

// DefaultDoublePrefix is the marker prefix used when none is configured.
const DefaultDoublePrefix = "double_"

// Partition splits records into valid and invalid ones, preserving order.
func Partition(recs []Record) (valid, invalid []Record) {
	for _, r := range recs {
		if r.Valid() {
			valid = append(valid, r)
		} else {
			invalid = append(invalid, r)
		}
	}
	return valid, invalid
}
