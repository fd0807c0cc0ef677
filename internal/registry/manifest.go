// ABOUTME: TOML encoding of the tool manifest and drift detection against the committed copy.
// ABOUTME: The generated artifact is the build-time contract for the registry's tool surface.

package registry

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/perchworks/perch-gateway/internal/taxonomy"
)

// manifestFile is the TOML document shape of the committed manifest.
type manifestFile struct {
	Tools []manifestTool `toml:"tool"`
}

type manifestTool struct {
	Name                       string   `toml:"name"`
	Description                string   `toml:"description"`
	Category                   string   `toml:"category"`
	Lane                       string   `toml:"lane"`
	Mutation                   bool     `toml:"mutation"`
	RequiresBackendClient      bool     `toml:"requires_backend_client"`
	RequiresGenerationProvider bool     `toml:"requires_generation_provider"`
	RequiresStorage            bool     `toml:"requires_storage"`
	Profiles                   []string `toml:"profiles"`
	ErrorCodes                 []string `toml:"error_codes"`
}

// WriteManifest encodes entries as the committed manifest document.
// Entries are sorted by name so regeneration is deterministic.
func WriteManifest(w io.Writer, entries []ManifestEntry) error {
	sorted := make([]ManifestEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	doc := manifestFile{Tools: make([]manifestTool, 0, len(sorted))}
	for _, e := range sorted {
		doc.Tools = append(doc.Tools, toManifestTool(e))
	}

	if _, err := fmt.Fprintln(w, "# Generated by perch-manifest. Do not edit by hand."); err != nil {
		return err
	}
	return toml.NewEncoder(w).Encode(doc)
}

// ReadManifest decodes the committed manifest document from path.
func ReadManifest(path string) ([]ManifestEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var doc manifestFile
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	entries := make([]ManifestEntry, 0, len(doc.Tools))
	for _, t := range doc.Tools {
		entries = append(entries, fromManifestTool(t))
	}
	return entries, nil
}

// Diff compares the committed manifest against the live registry entries
// and returns a human-readable line per divergence. Empty means no drift.
// The comparison ignores descriptions and input schemas: those may evolve
// freely, while the governance-relevant surface may not drift silently.
func Diff(committed, live []ManifestEntry) []string {
	var drift []string

	committedByName := make(map[string]ManifestEntry, len(committed))
	for _, e := range committed {
		committedByName[e.Name] = e
	}
	liveByName := make(map[string]ManifestEntry, len(live))
	for _, e := range live {
		liveByName[e.Name] = e
	}

	for name := range committedByName {
		if _, ok := liveByName[name]; !ok {
			drift = append(drift, fmt.Sprintf("tool %s is in the committed manifest but not registered", name))
		}
	}
	for name, liveEntry := range liveByName {
		committedEntry, ok := committedByName[name]
		if !ok {
			drift = append(drift, fmt.Sprintf("tool %s is registered but missing from the committed manifest", name))
			continue
		}
		if committedEntry.Mutation != liveEntry.Mutation {
			drift = append(drift, fmt.Sprintf("tool %s: mutation flag differs", name))
		}
		if committedEntry.Category != liveEntry.Category {
			drift = append(drift, fmt.Sprintf("tool %s: category differs", name))
		}
		if committedEntry.Lane != liveEntry.Lane {
			drift = append(drift, fmt.Sprintf("tool %s: lane differs", name))
		}
		if !sameStringSet(profileStrings(committedEntry.Profiles), profileStrings(liveEntry.Profiles)) {
			drift = append(drift, fmt.Sprintf("tool %s: profile membership differs", name))
		}
		if !sameStringSet(codeStrings(committedEntry.PossibleErrorCodes), codeStrings(liveEntry.PossibleErrorCodes)) {
			drift = append(drift, fmt.Sprintf("tool %s: possible error codes differ", name))
		}
		if committedEntry.RequiresBackendClient != liveEntry.RequiresBackendClient ||
			committedEntry.RequiresGenerationProvider != liveEntry.RequiresGenerationProvider ||
			committedEntry.RequiresStorage != liveEntry.RequiresStorage {
			drift = append(drift, fmt.Sprintf("tool %s: dependency requirements differ", name))
		}
	}

	sort.Strings(drift)
	return drift
}

func toManifestTool(e ManifestEntry) manifestTool {
	return manifestTool{
		Name:                       e.Name,
		Description:                e.Description,
		Category:                   string(e.Category),
		Lane:                       string(e.Lane),
		Mutation:                   e.Mutation,
		RequiresBackendClient:      e.RequiresBackendClient,
		RequiresGenerationProvider: e.RequiresGenerationProvider,
		RequiresStorage:            e.RequiresStorage,
		Profiles:                   profileStrings(e.Profiles),
		ErrorCodes:                 codeStrings(e.PossibleErrorCodes),
	}
}

func fromManifestTool(t manifestTool) ManifestEntry {
	profiles := make([]Profile, 0, len(t.Profiles))
	for _, p := range t.Profiles {
		profiles = append(profiles, Profile(p))
	}
	codes := make([]taxonomy.Code, 0, len(t.ErrorCodes))
	for _, c := range t.ErrorCodes {
		codes = append(codes, taxonomy.Code(c))
	}
	return ManifestEntry{
		Name:                       t.Name,
		Description:                t.Description,
		Category:                   Category(t.Category),
		Lane:                       Lane(t.Lane),
		Mutation:                   t.Mutation,
		RequiresBackendClient:      t.RequiresBackendClient,
		RequiresGenerationProvider: t.RequiresGenerationProvider,
		RequiresStorage:            t.RequiresStorage,
		Profiles:                   profiles,
		PossibleErrorCodes:         codes,
	}
}

func profileStrings(profiles []Profile) []string {
	out := make([]string, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, string(p))
	}
	return out
}

func codeStrings(codes []taxonomy.Code) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		out = append(out, string(c))
	}
	return out
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := make([]string, len(a))
	bs := make([]string, len(b))
	copy(as, a)
	copy(bs, b)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
