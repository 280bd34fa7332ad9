package archive

import (
	"strconv"
	"strings"
)

// DefaultPrefix is the first segment of every archive key.
const DefaultPrefix = "ckp"

// PageKey identifies an archived page.
type PageKey struct {
	// Prefix defaults to DefaultPrefix.
	Prefix string

	// Name is the task output name, e.g. "hosts" or "access-rulebase_<uid>".
	Name string

	Iteration int
}

// String generates a deterministic key.
// Format: ckp:name:iteration
//
// Example:
//
//	ckp:access-rulebase_a1b2:3
func (k PageKey) String() string {
	prefix := k.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	name := strings.ReplaceAll(strings.TrimSpace(k.Name), " ", "_")
	return prefix + ":" + name + ":" + strconv.Itoa(k.Iteration)
}

// FileName returns the file name of the page, name_iteration.json.
func (k PageKey) FileName() string {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(strings.TrimSpace(k.Name))
	return name + "_" + strconv.Itoa(k.Iteration) + ".json"
}
