package darkroom

import "github.com/darkroomhq/darkroom/id"

// ID is the primary identifier type for all Darkroom entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
