package delivery

import (
	"strings"

	"github.com/provisboard/provisd/internal/provisd/domain"
)

// toolClassTable maps tool identity prefixes to their class. Classification
// is heuristic and the most likely point of future change, so it stays a
// plain lookup table rather than branching logic.
var toolClassTable = []struct {
	prefix string
	class  domain.ToolClass
}{
	{"curl", domain.ToolSimpleFetch},
	{"busybox", domain.ToolSimpleFetch},
	{"wget", domain.ToolResumableFetch},
	{"aria2", domain.ToolResumableFetch},
}

// ClassifyTool returns the class of a tool identity string. Matching is a
// case-insensitive prefix check against the version-suffixed identities the
// tools actually send ("curl/8.5.0", "Wget/1.21.4").
func ClassifyTool(tool string) domain.ToolClass {
	lowered := strings.ToLower(strings.TrimSpace(tool))
	for _, row := range toolClassTable {
		if strings.HasPrefix(lowered, row.prefix) {
			return row.class
		}
	}
	return domain.ToolUnknown
}
