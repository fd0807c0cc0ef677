// ABOUTME: Profile-scoped tool registry: declares which tools exist and dispatches calls.
// ABOUTME: A profile's registry is built only from entries that declare it; no runtime filtering.

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/perchworks/perch-gateway/internal/envelope"
	"github.com/perchworks/perch-gateway/internal/taxonomy"
)

// Profile is a fixed deployment surface. A server instance is built for
// exactly one profile and can never dispatch a tool outside its set.
type Profile string

const (
	ProfileReadonly     Profile = "readonly"
	ProfileReadExtended Profile = "read-extended"
	ProfileFull         Profile = "full"
)

// Profiles lists all valid deployment surfaces.
var Profiles = []Profile{ProfileReadonly, ProfileReadExtended, ProfileFull}

// ParseProfile validates a profile name from configuration.
func ParseProfile(name string) (Profile, error) {
	for _, p := range Profiles {
		if string(p) == name {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown profile %q (valid: readonly, read-extended, full)", name)
}

// Lane classifies a tool's availability: common tools appear in every
// profile that lists them; privileged tools may only ever belong to the
// full profile.
type Lane string

const (
	LaneCommon     Lane = "common"
	LanePrivileged Lane = "privileged"
)

// Category groups tools by the kind of platform action they perform.
type Category string

const (
	CategoryRead       Category = "read"
	CategoryPublish    Category = "publish"
	CategoryEngagement Category = "engagement"
	CategorySocial     Category = "social"
)

// ManifestEntry is the static description of one registrable tool.
// Immutable after startup; the committed manifest artifact is generated
// from these entries and contract-tested against them.
type ManifestEntry struct {
	Name        string
	Description string
	Category    Category
	Lane        Lane
	Mutation    bool
	InputSchema string // JSON schema for the tool's arguments

	RequiresBackendClient      bool
	RequiresGenerationProvider bool
	RequiresStorage            bool

	Profiles           []Profile
	PossibleErrorCodes []taxonomy.Code
}

// memberOf reports whether the entry belongs to the given profile.
func (e *ManifestEntry) memberOf(p Profile) bool {
	for _, candidate := range e.Profiles {
		if candidate == p {
			return true
		}
	}
	return false
}

// Handler executes one tool call. Handlers always return an envelope;
// panics and unclassifiable failures are the dispatcher's problem.
type Handler func(ctx context.Context, args json.RawMessage) *envelope.Envelope

// Tool pairs a manifest entry with its live handler.
type Tool struct {
	Entry   ManifestEntry
	Handler Handler
}

// MetaOptions decorate envelope metadata per profile. Only the full
// profile supplies them; smaller profiles leave the struct nil so their
// envelopes never carry mode or approval_mode fields.
type MetaOptions struct {
	Mode         string
	ApprovalMode bool
}

// Registry holds the tools for exactly one profile.
type Registry struct {
	profile Profile
	tools   map[string]*Tool
	order   []string
	meta    *MetaOptions
	logger  *slog.Logger
}

// New builds a registry for the given profile from candidate tools.
// Candidates whose entries do not declare the profile are rejected with an
// error rather than filtered: the caller (the composition root) is
// expected to construct only the handlers this profile may hold, and a
// mismatch means it wired a tool into the wrong surface.
func New(profile Profile, candidates []*Tool, meta *MetaOptions, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default().With("component", "registry")
	}

	r := &Registry{
		profile: profile,
		tools:   make(map[string]*Tool, len(candidates)),
		meta:    meta,
		logger:  logger,
	}

	for _, tool := range candidates {
		entry := tool.Entry
		if entry.Name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if tool.Handler == nil {
			return nil, fmt.Errorf("tool %s has no handler", entry.Name)
		}
		if len(entry.Profiles) == 0 {
			return nil, fmt.Errorf("tool %s declares no profiles", entry.Name)
		}
		if !entry.memberOf(profile) {
			return nil, fmt.Errorf("tool %s does not belong to profile %s", entry.Name, profile)
		}
		if entry.Lane == LanePrivileged && profile != ProfileFull {
			return nil, fmt.Errorf("privileged tool %s offered to profile %s", entry.Name, profile)
		}
		if entry.Mutation && !hasPolicyCode(entry.PossibleErrorCodes) {
			return nil, fmt.Errorf("mutation tool %s declares no policy error code", entry.Name)
		}
		if _, exists := r.tools[entry.Name]; exists {
			return nil, fmt.Errorf("duplicate tool name %s", entry.Name)
		}
		r.tools[entry.Name] = tool
		r.order = append(r.order, entry.Name)
	}

	sort.Strings(r.order)
	logger.Info("registry built", "profile", profile, "tools", len(r.order))
	return r, nil
}

func hasPolicyCode(codes []taxonomy.Code) bool {
	for _, c := range codes {
		if taxonomy.GroupOf(c) == taxonomy.GroupPolicy {
			return true
		}
	}
	return false
}

// Profile returns the profile this registry was built for.
func (r *Registry) Profile() Profile {
	return r.profile
}

// Has reports whether a tool name is dispatchable in this registry.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Manifest returns the registry's entries sorted by name.
func (r *Registry) Manifest() []ManifestEntry {
	out := make([]ManifestEntry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Entry)
	}
	return out
}

// Dispatch executes a named tool. Unknown names return a not-found error
// envelope; this is the only dispatch path, so a name outside the
// profile's manifest is structurally unreachable.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) *envelope.Envelope {
	start := time.Now()

	tool, ok := r.tools[name]
	if !ok {
		env := envelope.Fail(taxonomy.CodeNotFound, fmt.Sprintf("unknown tool %q", name))
		return r.finish(env, start)
	}

	r.logger.Debug("dispatching tool", "tool", name, "profile", r.profile)

	env := tool.Handler(ctx, args)
	if env == nil {
		env = envelope.Fail(taxonomy.CodeInternal, fmt.Sprintf("tool %q returned no envelope", name))
	}
	return r.finish(env, start)
}

// finish stamps elapsed time and applies the profile's meta decoration.
func (r *Registry) finish(env *envelope.Envelope, start time.Time) *envelope.Envelope {
	env.WithElapsed(time.Since(start).Milliseconds())
	if r.meta != nil {
		env.Meta.Mode = r.meta.Mode
		approval := r.meta.ApprovalMode
		env.Meta.ApprovalMode = &approval
	}
	return env
}
