package types

// PublishMetadata is the JSON metadata block submitted in a publish wire
// frame, as cargo serializes it from Cargo.toml. Field names follow the
// registry API so the struct can be decoded directly off the wire.
type PublishMetadata struct {
	Name  string          `json:"name"`
	Vers  string          `json:"vers"`
	Deps  []RegistryDep   `json:"deps"`

	Features    map[string][]string `json:"features"`
	Authors     []string `json:"authors"`
	Description *string  `json:"description"`
	Documentation *string `json:"documentation"`
	Homepage    *string  `json:"homepage"`
	Readme      *string  `json:"readme"`
	ReadmeFile  *string  `json:"readme_file"`
	Keywords    []string `json:"keywords"`
	Categories  []string `json:"categories"`
	License     *string  `json:"license"`
	LicenseFile *string  `json:"license_file"`
	Repository  *string  `json:"repository"`
	Badges      map[string]map[string]string `json:"badges"`
	Links       string   `json:"links"`
}

// RegistryDep is one dependency entry as cargo submits it in a publish
// request. When a manifest dependency is renamed with `package = "..."`,
// Name carries the real crate name and ExplicitNameInToml carries the
// renamed identifier used in source; otherwise ExplicitNameInToml is
// nil and Name is both the real and the in-source name.
type RegistryDep struct {
	Name              string   `json:"name"`
	VersionReq        string   `json:"version_req"`
	Features          []string `json:"features"`
	Optional          bool     `json:"optional"`
	DefaultFeatures   bool     `json:"default_features"`
	Target            *string  `json:"target"`
	Kind              DependencyKind `json:"kind"`
	Registry          *string  `json:"registry"`
	ExplicitNameInToml *string `json:"explicit_name_in_toml,omitempty"`
}

// toDependency converts a publish-time RegistryDep into the index-facing
// Dependency, performing the rename round-trip: the index record always
// keys Name on the identifier used by the depending crate's source, and
// carries the real crate name in Package only when a rename occurred.
func (d RegistryDep) toDependency() Dependency {
	name := d.Name
	var pkg *string
	if d.ExplicitNameInToml != nil {
		name = *d.ExplicitNameInToml
		real := d.Name
		pkg = &real
	}
	return Dependency{
		Name:            name,
		Req:             d.VersionReq,
		Features:        d.Features,
		Optional:        d.Optional,
		DefaultFeatures: d.DefaultFeatures,
		Target:          d.Target,
		Kind:            d.Kind,
		Registry:        d.Registry,
		Package:         pkg,
	}
}

// toRegistryDep reverses toDependency: an index-facing Dependency always
// keys Name on the in-source identifier and carries the real crate name
// in Package only when renamed, while a RegistryDep always keys Name on
// the real crate name and carries the in-source identifier in
// ExplicitNameInToml only when it differs.
func (dep Dependency) toRegistryDep() RegistryDep {
	name := dep.Name
	var explicit *string
	if dep.Package != nil {
		real := *dep.Package
		inSource := dep.Name
		name = real
		explicit = &inSource
	}
	return RegistryDep{
		Name:               name,
		VersionReq:         dep.Req,
		Features:           dep.Features,
		Optional:           dep.Optional,
		DefaultFeatures:    dep.DefaultFeatures,
		Target:             dep.Target,
		Kind:               dep.Kind,
		Registry:           dep.Registry,
		ExplicitNameInToml: explicit,
	}
}
