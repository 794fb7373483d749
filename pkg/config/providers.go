package config

import (
	"fmt"
	"strings"
)

// ParseProviderList splits a comma-separated list of provider IDs. Every
// entry is checked against known when known is non-empty; all invalid
// entries are reported, not just the first.
func ParseProviderList(list string, known []string) ([]string, []error) {
	var (
		ids  []string
		errs []error
	)

	if strings.TrimSpace(list) == "" {
		return nil, nil
	}

	seen := make(map[string]bool)
	for i, raw := range strings.Split(list, ",") {
		id := strings.TrimSpace(raw)
		path := fmt.Sprintf("providers[%d]", i)

		switch {
		case id == "":
			errs = append(errs, ValidationError{
				Path:    path,
				Message: "empty provider id",
				Hint:    "expected a comma-separated list, e.g. primary,replica",
			})
			continue
		case seen[id]:
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("duplicate provider id %q", id),
			})
			continue
		case len(known) > 0 && !contains(known, id):
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("unknown provider id %q", id),
				Hint:    "configured providers: " + strings.Join(known, ", "),
			})
			continue
		}

		seen[id] = true
		ids = append(ids, id)
	}

	return ids, errs
}

// ProviderIDs returns the IDs of the enabled providers in declaration order.
func (c *Config) ProviderIDs() []string {
	var ids []string
	for _, p := range c.EnabledProviders() {
		ids = append(ids, p.ID)
	}
	return ids
}
