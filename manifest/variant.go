package manifest

import "fmt"

// osAliases maps manifest os selectors to GOOS values. Manifests written by
// other ecosystems commonly use "macos" for darwin.
var osAliases = map[string]string{
	"macos": "darwin",
	"osx":   "darwin",
}

// archAliases maps manifest arch selectors to GOARCH values.
var archAliases = map[string]string{
	"x86_64":  "amd64",
	"aarch64": "arm64",
	"i686":    "386",
	"x86":     "386",
}

// variantTable resolves a raw manifest value to a single entry table. A plain
// table is returned as-is with index -1. An array of tables is treated as
// platform variants: the first variant whose os and arch selectors both match
// the given platform wins, where a missing or empty selector matches
// anything. If no variant matches, the first variant is used. The returned
// index identifies the chosen element within the array.
func variantTable(value any, goos, goarch string) (map[string]any, int, error) {
	if table, ok := value.(map[string]any); ok {
		return table, -1, nil
	}
	variants, err := tableList(value)
	if err != nil {
		return nil, -1, fmt.Errorf("expected a table or array of variant tables")
	}
	if len(variants) == 0 {
		return nil, -1, fmt.Errorf("variant array is empty")
	}
	for i, v := range variants {
		if matchesPlatform(v, goos, goarch) {
			return v, i, nil
		}
	}
	return variants[0], 0, nil
}

func matchesPlatform(table map[string]any, goos, goarch string) bool {
	return selectorMatches(table, keyOS, osAliases, goos) &&
		selectorMatches(table, keyArch, archAliases, goarch)
}

func selectorMatches(table map[string]any, key string, aliases map[string]string, want string) bool {
	raw, present := table[key]
	if !present {
		return true
	}
	s, ok := raw.(string)
	if !ok {
		return false
	}
	if s == "" {
		return true
	}
	if canonical, ok := aliases[s]; ok {
		s = canonical
	}
	return s == want
}
