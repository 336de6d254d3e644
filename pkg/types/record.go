package types

import "encoding/json"

// DependencyKind is the role a Dependency plays in the depending crate's
// manifest. Unknown values round-trip unchanged rather than being
// rejected, matching cargo's tolerance of index entries it doesn't fully
// understand.
type DependencyKind string

const (
	DependencyKindNormal DependencyKind = "normal"
	DependencyKindBuild  DependencyKind = "build"
	DependencyKindDev    DependencyKind = "dev"
)

// Dependency is one dependency entry within a Record, matching the
// per-version dependency array of cargo's sparse index format.
type Dependency struct {
	// Name is the name used to resolve this dependency within the
	// depending crate's source — the renamed name when Package is set.
	Name string `json:"name"`

	Req             string   `json:"req"`
	Features        []string `json:"features"`
	Optional        bool     `json:"optional"`
	DefaultFeatures bool     `json:"default_features"`
	Target          *string  `json:"target,omitempty"`
	Kind            DependencyKind `json:"kind,omitempty"`
	Registry        *string  `json:"registry,omitempty"`

	// Package is the dependency's real crate name when Name is a rename
	// introduced via `package = "..."` in the manifest. Omitted entirely
	// when the dependency isn't renamed.
	Package *string `json:"package,omitempty"`
}

// Record is one line of a crate's sparse index file, describing a single
// published version. The on-disk index for a crate is the newline-joined,
// ascending-semver-ordered serialization of every non-deleted Record for
// that crate.
type Record struct {
	Name     string              `json:"name"`
	Vers     string              `json:"vers"`
	Deps     []Dependency        `json:"deps"`
	Cksum    string              `json:"cksum"`
	Features map[string][]string `json:"features"`
	Yanked   bool                `json:"yanked"`
	Links    *string             `json:"links,omitempty"`
	V        *int                `json:"v,omitempty"`
	Features2 map[string][]string `json:"features2,omitempty"`
}

// NewRecord builds the Record for a freshly published version from its
// submitted PublishMetadata and the checksum computed over the uploaded
// tarball. Schema version 1 is always recorded since features2 is never
// populated on publish.
func NewRecord(meta PublishMetadata, cksum string) Record {
	v := 1
	deps := make([]Dependency, 0, len(meta.Deps))
	for _, d := range meta.Deps {
		deps = append(deps, d.toDependency())
	}
	features := meta.Features
	if features == nil {
		features = map[string][]string{}
	}
	var links *string
	if meta.Links != "" {
		l := meta.Links
		links = &l
	}
	return Record{
		Name:     meta.Name,
		Vers:     meta.Vers,
		Deps:     deps,
		Cksum:    cksum,
		Features: features,
		Yanked:   false,
		Links:    links,
		V:        &v,
	}
}

// SerializeRecords renders records in the canonical form a crate's ETag
// is computed over: UTF-8, newline-delimited JSON, ascending-semver
// order (the caller's responsibility), no trailing newline. A single
// off-by-one here breaks every Cargo client's conditional-GET cache.
func SerializeRecords(records []Record) ([]byte, error) {
	lines := make([][]byte, len(records))
	for i, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		lines[i] = line
	}
	out := make([]byte, 0, len(records)*64)
	for i, line := range lines {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, line...)
	}
	return out, nil
}

// MinimalRecord builds a Record carrying only the fields required to
// satisfy cargo's resolver, used when mirroring an upstream crate whose
// full dependency graph has not been fetched yet.
func MinimalRecord(name, vers, cksum string) Record {
	v := 1
	return Record{
		Name:     name,
		Vers:     vers,
		Deps:     nil,
		Cksum:    cksum,
		Features: map[string][]string{},
		Yanked:   false,
		V:        &v,
	}
}
