package types

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/cuemby/cargohold/pkg/regerr"
)

// nameRe matches a valid crate or dependency name: it must start with an
// ASCII letter and contain only letters, digits, hyphens, and
// underscores afterward.
var nameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// maxNameLength bounds crate names, matching the upstream registry this
// index format was designed to mirror.
const maxNameLength = 64

// ValidateName checks a crate name against the registry's naming rules.
// It does not normalize the name; callers that need the lowercase index
// form should call Normalize separately.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return regerr.Newf(regerr.Invalid, "invalid character in crate name %q", name)
	}
	if len(name) > maxNameLength {
		return regerr.Newf(regerr.Invalid, "crate name %q exceeds %d characters", name, maxNameLength)
	}
	return nil
}

// Normalize lowercases a crate name for use as an index lookup key.
// pkg/publish stores Normalize's output as the crate's name, so it is
// what gets used for uniqueness, index sharding, and display; the
// original casing of a published name is not kept.
func Normalize(name string) string {
	return strings.ToLower(name)
}

// ValidateVersion checks that vers parses as a Semantic Versioning 2.0.0
// version, as cargo requires for every published version.
func ValidateVersion(vers string) error {
	if _, err := semver.StrictNewVersion(vers); err != nil {
		return regerr.Wrap(regerr.Invalid, "invalid semver version "+vers, err)
	}
	return nil
}

// ValidateRequiredFields checks that meta has a non-empty value for each
// field name in required. Field names match the publish wire format's
// JSON keys (e.g. "description", "license", "repository").
func ValidateRequiredFields(meta PublishMetadata, required []string) error {
	var missing []string
	for _, field := range required {
		if fieldIsEmpty(meta, field) {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return regerr.Newf(regerr.Invalid, "missing required crate metadata field(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

func fieldIsEmpty(meta PublishMetadata, field string) bool {
	switch field {
	case "description":
		return meta.Description == nil || *meta.Description == ""
	case "documentation":
		return meta.Documentation == nil || *meta.Documentation == ""
	case "homepage":
		return meta.Homepage == nil || *meta.Homepage == ""
	case "license":
		return (meta.License == nil || *meta.License == "") && (meta.LicenseFile == nil || *meta.LicenseFile == "")
	case "repository":
		return meta.Repository == nil || *meta.Repository == ""
	case "keywords":
		return len(meta.Keywords) == 0
	case "categories":
		return len(meta.Categories) == 0
	case "readme":
		return (meta.Readme == nil || *meta.Readme == "") && (meta.ReadmeFile == nil || *meta.ReadmeFile == "")
	default:
		return false
	}
}

// ParseVersion parses vers as a semver.Version or returns a regerr.Invalid
// error describing why it could not.
func ParseVersion(vers string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(vers)
	if err != nil {
		return nil, regerr.Wrap(regerr.Invalid, "invalid semver version "+vers, err)
	}
	return v, nil
}
