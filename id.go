package socialq

import "github.com/xraph/socialq/id"

// ID is the primary identifier type for all socialq entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
