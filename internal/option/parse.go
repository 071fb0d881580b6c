package option

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/weecore/weecore/internal/errs"
)

// Read parses the line-oriented config format from spec §6 out of r into f:
//
//	[section_name]
//	option_name = value
//
// Comments and empty lines are ignored. Unknown options warn (non-fatal);
// a malformed section header aborts the load with a ConfigParse error.
// Grounded on irc/config/config.go's loadFromSource, generalized from
// struct-tag YAML/TOML/JSON decoding to the line-oriented `[section]` /
// `key = value` format this option store actually persists (see
// internal/config for the separate YAML/TOML/JSON loader used at the
// process level).
func (f *File) Read(r io.Reader) ([]string, error) {
	var warnings []string
	scanner := bufio.NewScanner(r)
	lineNo := 0
	var current *Section
	inAlias := false
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.HasPrefix(trimmed, "[") {
			if !strings.HasSuffix(trimmed, "]") {
				return warnings, errs.New(errs.ConfigParse, fmt.Sprintf("%s:%d", f.Name, lineNo), fmt.Errorf("malformed section header %q", trimmed))
			}
			name := strings.TrimSuffix(strings.TrimPrefix(trimmed, "["), "]")
			if name == aliasSectionName {
				current = nil
				inAlias = true
				continue
			}
			inAlias = false
			s, ok := f.Section(name)
			if !ok {
				s = f.NewSection(name, true, true)
			}
			current = s
			continue
		}
		eq := strings.Index(trimmed, "=")
		if eq < 0 {
			warnings = append(warnings, fmt.Sprintf("%s:%d: malformed line %q, ignored", f.Name, lineNo, trimmed))
			continue
		}
		key := strings.TrimSpace(trimmed[:eq])
		value := strings.TrimSpace(trimmed[eq+1:])
		if inAlias {
			f.Aliases[strings.ToLower(key)] = value
			continue
		}
		if current == nil {
			warnings = append(warnings, fmt.Sprintf("%s:%d: option %q outside any section, ignored", f.Name, lineNo, key))
			continue
		}
		if current.ReadCB != nil {
			if err := current.ReadCB(current, key, value); err != nil {
				warnings = append(warnings, fmt.Sprintf("%s:%d: %v", f.Name, lineNo, err))
			}
			continue
		}
		o, ok := current.Option(key)
		if !ok {
			if current.AllowAdd && current.CreateOptionCB != nil {
				if err := current.CreateOptionCB(current, key, value); err != nil {
					warnings = append(warnings, fmt.Sprintf("%s:%d: %v", f.Name, lineNo, err))
				}
				continue
			}
			warnings = append(warnings, fmt.Sprintf("%s:%d: unknown option %q, ignored", f.Name, lineNo, key))
			continue
		}
		if res := Set(o, value, true); res == SetError {
			warnings = append(warnings, fmt.Sprintf("%s:%d: invalid value %q for %q, ignored", f.Name, lineNo, value, key))
		}
	}
	if err := scanner.Err(); err != nil {
		return warnings, errs.New(errs.ConfigParse, f.Name, err)
	}
	return warnings, nil
}

// Write serializes f in section-enumeration order, each section's options
// in their own enumeration order. Per spec §4.2, options equal to their
// default are still written, so the file stays discoverable for manual
// editing.
func (f *File) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if len(f.Aliases) > 0 {
		if _, err := fmt.Fprintf(bw, "[%s]\n", aliasSectionName); err != nil {
			return err
		}
		names := make([]string, 0, len(f.Aliases))
		for name := range f.Aliases {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if _, err := fmt.Fprintf(bw, "%s = %s\n", name, f.Aliases[name]); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(bw); err != nil {
			return err
		}
	}
	for _, s := range f.Sections() {
		if _, err := fmt.Fprintf(bw, "[%s]\n", s.Name); err != nil {
			return err
		}
		if s.WriteCB != nil {
			if err := s.WriteCB(s); err != nil {
				return err
			}
		}
		for _, o := range s.Options() {
			if _, err := fmt.Fprintf(bw, "%s = %s\n", o.Name, o.Current); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(bw); err != nil {
			return err
		}
	}
	return bw.Flush()
}
