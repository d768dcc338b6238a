// Package checkpoints turns an owner's get-key settings into the ordered
// checkpoint plan a session must walk through.
package checkpoints

import (
	"strings"

	"github.com/dmitrijs2005/getkey/internal/server/models"
)

// Plan is the ordered list of checkpoint links and how many of them a
// session must complete.
type Plan struct {
	Links    []string
	Required int
}

// DeriveCheckpointPlan puts platformLink at index 0, followed by the owner's
// distinct non-empty links in their configured order. Required is the owner's
// count clamped to the number of links and never below one, so the platform
// checkpoint is always part of the flow.
func DeriveCheckpointPlan(platformLink string, s models.OwnerSettings) Plan {
	platformLink = strings.TrimSpace(platformLink)

	links := make([]string, 0, len(s.CheckpointLinks)+1)
	seen := make(map[string]struct{}, len(s.CheckpointLinks)+1)
	if platformLink != "" {
		links = append(links, platformLink)
		seen[platformLink] = struct{}{}
	}
	for _, l := range s.CheckpointLinks {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		links = append(links, l)
	}

	required := min(s.CheckpointCount, len(links))
	if required < 1 {
		required = 1
	}
	return Plan{Links: links, Required: required}
}
