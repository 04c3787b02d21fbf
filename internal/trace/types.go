// Package trace tags and annotates diagnostic events emitted while driving
// a session: attach/detach, remote calls and their trap/overflow handshakes,
// and drained heap allocations. It is the generic event-tagging scaffolding
// the teacher used for its ARM64 emulation trace viewer, repurposed here
// with this engine's own event vocabulary instead of the teacher's
// key-extraction categories.
package trace

import "time"

// Tag represents a diagnostic event category. Tags are stored without a #
// prefix; the prefix is added on rendering.
type Tag string

// Standard tags for this engine's diagnostic events.
const (
	Attach        Tag = "attach"
	Detach        Tag = "detach"
	RemoteCall    Tag = "remote-call"
	Trap          Tag = "trap"
	Overflow      Tag = "overflow"
	HeapAlloc     Tag = "heap-alloc"
	SymbolResolve Tag = "symbol"
	Libc          Tag = "libc"
	Fallback      Tag = "fallback"
)

// Tags is a collection of tags with helper methods.
type Tags []Tag

// Has returns true if the tag collection contains the given tag.
func (t Tags) Has(tag Tag) bool {
	for _, x := range t {
		if x == tag {
			return true
		}
	}
	return false
}

// Add adds a tag if not already present.
func (t *Tags) Add(tag Tag) {
	if !t.Has(tag) {
		*t = append(*t, tag)
	}
}

// Strings returns tags as strings with a # prefix for display.
func (t Tags) Strings() []string {
	out := make([]string, len(t))
	for i, tag := range t {
		out[i] = "#" + string(tag)
	}
	return out
}

// Primary returns the first tag or empty string if none.
func (t Tags) Primary() Tag {
	if len(t) > 0 {
		return t[0]
	}
	return ""
}

// Annotations holds key-value metadata for an event.
type Annotations map[string]string

// Set adds or updates an annotation.
func (a Annotations) Set(k, v string) {
	a[k] = v
}

// Get retrieves an annotation value.
func (a Annotations) Get(k string) string {
	return a[k]
}

// Event is one diagnostic event surfaced by a CLI command, tied to a
// tracee address (e.g. the PC at a trap, or an allocation base).
type Event struct {
	Addr        uint64
	Tags        Tags
	Name        string
	Detail      string
	Annotations Annotations
	Timestamp   time.Time
}

// NewEvent creates a new Event tagged with category.
func NewEvent(addr uint64, category, name, detail string) *Event {
	return &Event{
		Addr:        addr,
		Tags:        Tags{Tag(category)},
		Name:        name,
		Detail:      detail,
		Annotations: make(Annotations),
		Timestamp:   time.Now(),
	}
}

// AddTag adds a tag to the event.
func (e *Event) AddTag(tag Tag) {
	e.Tags.Add(tag)
}

// Annotate sets an annotation on the event.
func (e *Event) Annotate(k, v string) {
	if e.Annotations == nil {
		e.Annotations = make(Annotations)
	}
	e.Annotations.Set(k, v)
}

// PrimaryTag returns the primary (first) tag with a # prefix, or "".
func (e *Event) PrimaryTag() string {
	if len(e.Tags) > 0 {
		return "#" + string(e.Tags[0])
	}
	return ""
}

// Enricher enriches an event based on its primary category and name.
type Enricher func(e *Event)

// DefaultEnricher adds secondary tags based on the event's primary category
// and function name, the way the teacher's enricher derived #malloc/#xor
// from stub call categories.
func DefaultEnricher(e *Event) {
	if len(e.Tags) == 0 {
		return
	}
	switch e.Tags[0] {
	case Tag("call"):
		e.AddTag(RemoteCall)
		switch e.Name {
		case "malloc_iterate", "malloc_disable", "malloc_enable", "mmap", "munmap":
			e.AddTag(Libc)
		}
	case Tag("heap"):
		e.AddTag(HeapAlloc)
	case Tag("symbol"):
		e.AddTag(SymbolResolve)
	}
}
