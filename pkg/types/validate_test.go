package types

import "testing"

func TestValidateName(t *testing.T) {
	valid := []string{"serde", "serde_json", "my-crate", "A1"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "1abc", "-abc", "abc def", "abc/def"}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}

func TestValidateVersion(t *testing.T) {
	valid := []string{"1.2.3", "0.1.0", "1.0.0-alpha.1", "1.0.0+build.5"}
	for _, vers := range valid {
		if err := ValidateVersion(vers); err != nil {
			t.Errorf("ValidateVersion(%q) = %v, want nil", vers, err)
		}
	}

	// semver.org requires exactly three dot-separated numeric components
	// with no leading zeros; these are the non-compliant forms
	// semver.NewVersion coerces but StrictNewVersion must reject.
	invalid := []string{"not-a-version", "a.1.2", "002.23.1", "5.3.2.3", "1.2", "1"}
	for _, vers := range invalid {
		if err := ValidateVersion(vers); err == nil {
			t.Errorf("ValidateVersion(%q) = nil, want error", vers)
		}
	}
}

func TestParseVersionRejectsNonStrictSemver(t *testing.T) {
	if _, err := ParseVersion("002.23.1"); err == nil {
		t.Error("ParseVersion(002.23.1) = nil, want error")
	}
	v, err := ParseVersion("1.2.3")
	if err != nil {
		t.Fatalf("ParseVersion(1.2.3) = %v, want nil", err)
	}
	if v.String() != "1.2.3" {
		t.Errorf("ParseVersion(1.2.3).String() = %q, want 1.2.3", v.String())
	}
}

func TestValidateRequiredFields(t *testing.T) {
	desc := "a crate"
	meta := PublishMetadata{Name: "demo", Vers: "1.0.0", Description: &desc}

	if err := ValidateRequiredFields(meta, []string{"description"}); err != nil {
		t.Errorf("ValidateRequiredFields with description set = %v, want nil", err)
	}
	if err := ValidateRequiredFields(meta, []string{"license", "repository"}); err == nil {
		t.Error("ValidateRequiredFields with missing license/repository = nil, want error")
	}
	if err := ValidateRequiredFields(meta, nil); err != nil {
		t.Errorf("ValidateRequiredFields with no required fields = %v, want nil", err)
	}
}
