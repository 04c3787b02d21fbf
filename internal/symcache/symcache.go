// Package symcache builds, from a tracee's link map, a forward index
// (module -> symbol name -> address range) and a reverse, address-sorted
// index for binary-search lookup from an address back to its owning symbol.
// Construction is eager: every link-map entry naming a file that exists on
// disk is opened and fully symbolized up front.
package symcache

import (
	"os"
	"sort"

	"github.com/zboralski/introspect/internal/elfreader"
	"github.com/zboralski/introspect/internal/introlog"
	"github.com/zboralski/introspect/internal/ixerr"
	"github.com/zboralski/introspect/internal/linkmap"
)

// Range is one symbol's rebased address range plus the module it came from.
type Range struct {
	Module string
	Name   string
	Start  uint64
	End    uint64
}

// Cache holds the forward and reverse symbol indices for one tracee.
type Cache struct {
	forward map[string]map[string]Range
	order   []string // module names (sonames) in link-map load order
	reverse []Range  // sorted by Start
}

// Build symbolizes every on-disk module named in entries.
func Build(entries []linkmap.Entry) (*Cache, error) {
	c := &Cache{forward: make(map[string]map[string]Range)}

	modules, symbols := 0, 0
	for _, e := range entries {
		if e.Soname == "" {
			continue
		}
		if _, err := os.Stat(e.Soname); err != nil {
			continue
		}
		ef, err := elfreader.Open(e.Soname)
		if err != nil {
			continue
		}
		syms, err := ef.LoadSymbols(e.LoadBias)
		ef.Close()
		if err != nil {
			continue
		}

		byName := make(map[string]Range, len(syms))
		for _, s := range syms {
			r := Range{Module: e.Soname, Name: s.Name, Start: s.Start, End: s.End}
			byName[s.Name] = r
			c.reverse = append(c.reverse, r)
			symbols++
		}
		c.forward[e.Soname] = byName
		c.order = append(c.order, e.Soname)
		modules++
	}

	sort.Slice(c.reverse, func(i, j int) bool { return c.reverse[i].Start < c.reverse[j].Start })

	if introlog.L != nil {
		introlog.L.SymbolCacheBuilt(modules, symbols)
	}

	return c, nil
}

// AddressOf returns the address of the first matching symbol in link-map
// load order. For a name defined in more than one loaded module, the module
// that appears earliest in c.order (the order Build saw link-map entries in,
// which linkmap.Walk produces in load order) wins — see DESIGN.md's record
// of this open question.
func (c *Cache) AddressOf(name string) (uint64, error) {
	for _, module := range c.order {
		if r, ok := c.forward[module][name]; ok {
			return r.Start, nil
		}
	}
	return 0, &ixerr.SymbolNotFound{Name: name}
}

// SymbolFor binary-searches the reverse index for the unique entry whose
// [Start, End) contains addr.
func (c *Cache) SymbolFor(addr uint64) (Range, error) {
	i := sort.Search(len(c.reverse), func(i int) bool { return c.reverse[i].Start > addr })
	// c.reverse[i-1].Start <= addr < c.reverse[i].Start (if i < len); the
	// candidate is i-1, but only a hit if addr also falls before its End.
	if i == 0 {
		return Range{}, &ixerr.NoSymbolForAddress{Addr: addr}
	}
	cand := c.reverse[i-1]
	if addr >= cand.Start && addr < cand.End {
		return cand, nil
	}
	return Range{}, &ixerr.NoSymbolForAddress{Addr: addr}
}

// Modules returns the number of successfully symbolized modules.
func (c *Cache) Modules() int { return len(c.forward) }

// Symbols returns the total number of symbols across all modules.
func (c *Cache) Symbols() int { return len(c.reverse) }
