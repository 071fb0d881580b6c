package option

import (
	"fmt"
	"strings"
)

// aliasSectionName is the config-file section Read/Write treat
// specially: its "key = value" lines populate File.Aliases directly
// instead of becoming typed Options (spec §9 historical-ambiguity note:
// alias expansion is a real feature of the config section parser, not
// the stub the legacy command handlers suggest).
const aliasSectionName = "alias"

// maxAliasDepth bounds alias expansion recursion (spec §9 historical
// ambiguity note: the legacy source stubs alias commands out; here alias
// expansion is implemented as a real feature of the config section
// parser, capped so a cycle like "a -> b -> a" cannot loop forever).
const maxAliasDepth = 16

// ExpandAlias substitutes the first token of line against f.Aliases,
// repeating until a non-alias first token is reached or maxAliasDepth is
// exceeded. The expansion preserves the rest of the original line
// (everything after the first token) appended to the alias's own command.
func (f *File) ExpandAlias(line string) (string, error) {
	current := line
	for depth := 0; depth < maxAliasDepth; depth++ {
		first, rest := splitFirstToken(current)
		target, ok := f.Aliases[strings.ToLower(first)]
		if !ok {
			return current, nil
		}
		if rest != "" {
			current = target + " " + rest
		} else {
			current = target
		}
	}
	return "", fmt.Errorf("alias expansion exceeded depth %d (cycle?) starting from %q", maxAliasDepth, line)
}

func splitFirstToken(s string) (first, rest string) {
	s = strings.TrimSpace(s)
	i := strings.IndexByte(s, ' ')
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i+1:])
}
