package transcoder

import (
	entityscript "github.com/wippyai/entity-scripting"
)

type Memory = entityscript.Memory
type Allocator = entityscript.Allocator

// Size limits applied when lifting guest data.
const (
	MaxStringSize = 1 << 30
	MaxListLength = 1 << 27
)
