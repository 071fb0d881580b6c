// Package option implements the typed, sectioned, file-backed
// configuration store from spec §3/§4.2: Option, Section, File, with
// check/change/delete callbacks and persist semantics.
//
// The file layer is the line-oriented "[section]" / "key = value" reader
// and writer in parse.go. The section/option semantics are grounded on
// original_source/src/config.c as the distilled spec summarizes them (typed
// options, per-section option tables, default-vs-current value).
package option

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/weecore/weecore/internal/errs"
	"github.com/weecore/weecore/internal/hook"
)

// Type is one of the option value kinds from spec §3.
type Type int

const (
	TypeBool Type = iota
	TypeInt
	TypeEnum // int-from-enumerated-strings
	TypeColor
	TypeString
)

// SetResult is the outcome of Set, per spec §4.2.
type SetResult int

const (
	SetOK SetResult = iota
	SetSameValue
	SetError
	SetNotFound
)

// UnsetResult is the outcome of Unset, per spec §4.2.
type UnsetResult int

const (
	UnsetNoReset UnsetResult = iota
	UnsetReset
	UnsetRemoved
	UnsetError
)

// CheckFunc validates a prospective new value before it is stored.
type CheckFunc func(o *Option, newValue string) error

// ChangeFunc is called after a value actually changes.
type ChangeFunc func(o *Option)

// DeleteFunc is called when an option is destroyed.
type DeleteFunc func(o *Option)

// Option is a named, typed value. Per the §3 invariant, Current is always
// type-valid and, for numeric types, within [Min,Max]; for Enum, within
// Values.
type Option struct {
	Name        string
	Description string
	Type        Type
	Min, Max    int      // numeric bounds
	Values      []string // enum-string enumeration (case-insensitive match)
	Default     string
	Current     string
	NullAllowed bool

	Check  CheckFunc
	Change ChangeFunc
	Delete DeleteFunc

	section *Section
}

// FullName is "section.name", the form used in config files and by the
// config hook kind (spec §4.3: "matches option full-name").
func (o *Option) FullName() string {
	if o.section == nil {
		return o.Name
	}
	return o.section.Name + "." + o.Name
}

// Section owns an ordered set of options plus permission flags and the
// dynamic-option callbacks from spec §3.
type Section struct {
	Name          string
	AllowAdd      bool
	AllowDelete   bool
	ReadCB        func(s *Section, key, value string) error
	WriteCB       func(s *Section) error
	WriteDefaultCB func(s *Section) error
	CreateOptionCB func(s *Section, name, value string) error
	DeleteOptionCB func(s *Section, name string) error

	file    *File
	order   []string // option names in enumeration/write order
	options map[string]*Option
}

func newSection(name string, allowAdd, allowDelete bool) *Section {
	return &Section{
		Name:        name,
		AllowAdd:    allowAdd,
		AllowDelete: allowDelete,
		options:     make(map[string]*Option),
	}
}

// File is a named config file with an ordered list of sections (spec §3).
type File struct {
	Name     string
	ReloadCB func(f *File) error

	order    []string
	sections map[string]*Section

	// Config hook kind: fires on any change that actually took effect.
	ConfigHooks *hook.Registry[*Option]

	// Aliases maps a user-typed alias name to the command line it expands
	// to (spec §9 historical-ambiguity note: alias expansion is real).
	Aliases map[string]string
}

// NewFile creates a config file (spec: new_file).
func NewFile(name string, reloadCB func(f *File) error) *File {
	return &File{
		Name:        name,
		ReloadCB:    reloadCB,
		sections:    make(map[string]*Section),
		ConfigHooks: hook.NewRegistry[*Option](hook.Config),
		Aliases:     make(map[string]string),
	}
}

// NewSection creates a section within f (spec: new_section).
func (f *File) NewSection(name string, allowAdd, allowDelete bool) *Section {
	s := newSection(name, allowAdd, allowDelete)
	s.file = f
	if _, exists := f.sections[name]; !exists {
		f.order = append(f.order, name)
	}
	f.sections[name] = s
	return s
}

// Section looks up a section by name.
func (f *File) Section(name string) (*Section, bool) {
	s, ok := f.sections[name]
	return s, ok
}

// Sections returns sections in their enumeration (write) order.
func (f *File) Sections() []*Section {
	out := make([]*Section, 0, len(f.order))
	for _, n := range f.order {
		out = append(out, f.sections[n])
	}
	return out
}

// NewOption creates an option within s (spec: new_option). defaultValue and
// value are both stored as the option's default/current; they are typically
// equal at creation time.
func (s *Section) NewOption(name string, typ Type, desc string, values []string, min, max int, defaultValue, value string, nullAllowed bool, check CheckFunc, change ChangeFunc, del DeleteFunc) (*Option, error) {
	o := &Option{
		Name:        name,
		Description: desc,
		Type:        typ,
		Min:         min,
		Max:         max,
		Values:      values,
		Default:     defaultValue,
		NullAllowed: nullAllowed,
		Check:       check,
		Change:      change,
		Delete:      del,
		section:     s,
	}
	if _, err := parseTyped(o, value); err != nil {
		return nil, errs.New(errs.ConfigParse, o.FullName(), err)
	}
	o.Current = normalizeTyped(o, value)
	if _, exists := s.options[name]; !exists {
		s.order = append(s.order, name)
	}
	s.options[name] = o
	if s.CreateOptionCB != nil {
		if err := s.CreateOptionCB(s, name, value); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Option looks up an option by name within the section.
func (s *Section) Option(name string) (*Option, bool) {
	o, ok := s.options[name]
	return o, ok
}

// Options returns options in their enumeration (write) order.
func (s *Section) Options() []*Option {
	out := make([]*Option, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.options[n])
	}
	return out
}

// Search finds an option by file, section, and option name (spec: search).
func (f *File) Search(section, name string) (*Option, bool) {
	s, ok := f.sections[section]
	if !ok {
		return nil, false
	}
	return s.Option(name)
}

// Set parses newValue, validates it, and — if it actually differs from the
// current value — stores it and (if runCallback) fires Change. Semantics
// exactly match spec §4.2.
func Set(o *Option, newValue string, runCallback bool) SetResult {
	if o == nil {
		return SetNotFound
	}
	parsed, err := parseTyped(o, newValue)
	if err != nil {
		return SetError
	}
	if o.Check != nil {
		if err := o.Check(o, parsed); err != nil {
			return SetError
		}
	}
	if parsed == o.Current {
		return SetSameValue
	}
	o.Current = parsed
	if runCallback && o.Change != nil {
		o.Change(o)
	}
	if runCallback && o.section != nil && o.section.file != nil {
		o.section.file.ConfigHooks.Dispatch(o)
	}
	return SetOK
}

// Reset restores an option to its default value, per the same change
// discipline as Set.
func Reset(o *Option, runCallback bool) SetResult {
	return Set(o, o.Default, runCallback)
}

// Unset resets or removes an option, per spec §4.2's four-way result.
func Unset(o *Option) UnsetResult {
	if o == nil {
		return UnsetError
	}
	s := o.section
	if s != nil && s.AllowDelete {
		delete(s.options, o.Name)
		for i, n := range s.order {
			if n == o.Name {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		if s.DeleteOptionCB != nil {
			_ = s.DeleteOptionCB(s, o.Name)
		}
		if o.Delete != nil {
			o.Delete(o)
		}
		return UnsetRemoved
	}
	if o.Current == o.Default {
		return UnsetNoReset
	}
	if Reset(o, true) == SetOK {
		return UnsetReset
	}
	return UnsetNoReset
}

// parseTyped validates raw against o's type and returns the canonical
// stored form. It does not mutate o.
func parseTyped(o *Option, raw string) (string, error) {
	if raw == "" && o.NullAllowed {
		return "", nil
	}
	switch o.Type {
	case TypeBool:
		b, err := parseBool(raw)
		if err != nil {
			return "", err
		}
		if b {
			return "on", nil
		}
		return "off", nil
	case TypeInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return "", fmt.Errorf("%q is not an integer", raw)
		}
		if n < o.Min || n > o.Max {
			return "", fmt.Errorf("%d out of range [%d,%d]", n, o.Min, o.Max)
		}
		return strconv.Itoa(n), nil
	case TypeEnum:
		for _, v := range o.Values {
			if strings.EqualFold(v, raw) {
				return v, nil
			}
		}
		return "", fmt.Errorf("%q is not one of %v", raw, o.Values)
	case TypeColor:
		return parseColor(raw)
	case TypeString:
		return raw, nil
	default:
		return "", fmt.Errorf("unknown option type")
	}
}

func normalizeTyped(o *Option, raw string) string {
	v, err := parseTyped(o, raw)
	if err != nil {
		return raw
	}
	return v
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a boolean (on/off)", raw)
}

// palette is the named-color table consulted before falling back to a
// numeric index; the UI layer owns the actual rendering (spec §3
// Ownership: a nick color is an index into a palette owned by the UI).
var palette = []string{
	"default", "black", "red", "green", "yellow",
	"blue", "magenta", "cyan", "white",
}

func parseColor(raw string) (string, error) {
	for i, name := range palette {
		if strings.EqualFold(name, raw) {
			return strconv.Itoa(i), nil
		}
	}
	if n, err := strconv.Atoi(raw); err == nil && n >= 0 && n < 256 {
		return strconv.Itoa(n), nil
	}
	return "", fmt.Errorf("%q is not a known color name or index", raw)
}
