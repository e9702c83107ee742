// Package holder defines the normalized holder identifier used across the
// custody ledgers. The original records encode "held by the warehouse" as
// any of null, 0 or "0" depending on which service wrote the value; this
// type folds all of those into a single sentinel so custody checks never
// compare raw encodings.
package holder

// ID identifies the current custodian of an equipment unit. The zero value
// is the warehouse sentinel.
type ID struct {
	user string
}

// Warehouse returns the warehouse sentinel.
func Warehouse() ID {
	return ID{}
}

// FromUser builds an ID from a raw user identifier. Empty and "0" values
// normalize to the warehouse sentinel.
func FromUser(userID string) ID {
	if userID == "" || userID == "0" {
		return ID{}
	}
	return ID{user: userID}
}

// FromNullable builds an ID from a nullable database or JSON value.
func FromNullable(userID *string) ID {
	if userID == nil {
		return ID{}
	}
	return FromUser(*userID)
}

// IsWarehouse reports whether the holder is the warehouse sentinel.
func (h ID) IsWarehouse() bool {
	return h.user == ""
}

// UserID returns the raw user identifier, or the empty string for the
// warehouse sentinel.
func (h ID) UserID() string {
	return h.user
}

// Nullable returns the identifier as a nullable value for persistence,
// with nil representing the warehouse.
func (h ID) Nullable() *string {
	if h.user == "" {
		return nil
	}
	u := h.user
	return &u
}

func (h ID) String() string {
	if h.user == "" {
		return "warehouse"
	}
	return h.user
}
