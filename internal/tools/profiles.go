// ABOUTME: Per-profile tool set constructors, the only place tool sets are assembled.
// ABOUTME: Smaller profiles never construct mutation handlers, so isolation is structural.

package tools

import (
	"fmt"

	"github.com/perchworks/perch-gateway/internal/registry"
)

func readonlyTools(d Deps) []*registry.Tool {
	return []*registry.Tool{
		getTweetTool(d),
		getUserTool(d),
		searchTweetsTool(d),
		userTimelineTool(d),
	}
}

func extendedReadTools(d Deps) []*registry.Tool {
	return []*registry.Tool{
		mentionsTool(d),
		homeTimelineTool(d),
		followersTool(d),
	}
}

func mutationTools(d Deps) []*registry.Tool {
	return []*registry.Tool{
		postTweetTool(d),
		replyTool(d),
		deleteTweetTool(d),
		likeTweetTool(d),
		unlikeTweetTool(d),
		retweetTool(d),
		unretweetTool(d),
		followUserTool(d),
		unfollowUserTool(d),
	}
}

// ForProfile builds the tool set for one profile. Mutation constructors are
// not even invoked outside the full profile, so a readonly deployment holds
// no reference to the write client or the policy gateway.
func ForProfile(profile registry.Profile, d Deps) ([]*registry.Tool, error) {
	switch profile {
	case registry.ProfileReadonly:
		return readonlyTools(d), nil
	case registry.ProfileReadExtended:
		return append(readonlyTools(d), extendedReadTools(d)...), nil
	case registry.ProfileFull:
		if d.Write == nil || d.Gateway == nil {
			return nil, fmt.Errorf("full profile requires a write client and a policy gateway")
		}
		all := append(readonlyTools(d), extendedReadTools(d)...)
		return append(all, mutationTools(d)...), nil
	default:
		return nil, fmt.Errorf("unknown profile %q", profile)
	}
}

// AllEntries returns the manifest entries for the complete tool surface,
// independent of any profile. Used by the manifest generator and the drift
// contract test; handlers built from zero deps are never dispatched.
func AllEntries() []registry.ManifestEntry {
	var d Deps
	tools := append(readonlyTools(d), extendedReadTools(d)...)
	tools = append(tools, mutationTools(d)...)

	entries := make([]registry.ManifestEntry, 0, len(tools))
	for _, t := range tools {
		entries = append(entries, t.Entry)
	}
	return entries
}
