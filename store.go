package arbor

import "sort"

// registration is a unit as discovered while walking the Resource tree
// rooted at the unit passed to Boot.
type registration struct {
	unit      Unit
	ownerPath []ID // resource ids from root down to (not including) unit's owner
	ownerID   ID   // the resource that directly registered unit, "" at root
	depth     int
	seq       int // discovery order, for stable tie-breaking
}

// store is the flattened, override-resolved view of a boot tree: every unit
// reachable from the root resource, keyed by id, with the deepest
// registration winning when an id is declared more than once (child
// resources may shadow a parent's unit).
type store struct {
	byID map[ID]*registration
	all  []*registration
}

func buildStore(root *Resource) (*store, error) {
	s := &store{byID: make(map[ID]*registration)}
	seq := 0
	var walk func(u Unit, ownerPath []ID, ownerID ID, depth int) error
	walk = func(u Unit, ownerPath []ID, ownerID ID, depth int) error {
		reg := &registration{unit: u, ownerPath: append([]ID(nil), ownerPath...), ownerID: ownerID, depth: depth, seq: seq}
		seq++
		if existing, ok := s.byID[u.ID()]; ok && existing.depth > reg.depth {
			// a deeper (more specific) registration already claimed this id;
			// the shallower one registered later in the walk does not
			// override it.
		} else {
			s.byID[u.ID()] = reg
		}
		s.all = append(s.all, reg)

		res, ok := u.(*Resource)
		if !ok {
			return nil
		}
		childPath := append(append([]ID(nil), ownerPath...), u.ID())
		for _, child := range res.children {
			if err := walk(child, childPath, u.ID(), depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root, nil, "", 0); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *store) get(id ID) (*registration, bool) {
	r, ok := s.byID[id]
	return r, ok
}

// resources returns every resource registration, sorted by depth ascending
// (root-to-leaf), for boot's topological init order.
func (s *store) resources() []*registration {
	var out []*registration
	for _, r := range s.all {
		if _, ok := r.unit.(*Resource); ok {
			if chosen, ok := s.byID[r.unit.ID()]; !ok || chosen != r {
				continue
			}
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].depth < out[j].depth })
	return out
}

// tasks, events, hooks return every live (non-shadowed) registration of
// that kind.
func (s *store) tasks() []*Task       { return byKind[*Task](s) }
func (s *store) events() []*Event     { return byKind[*Event](s) }
func (s *store) hooks() []*Hook       { return byKind[*Hook](s) }
func (s *store) resourceList() []*Resource {
	return byKind[*Resource](s)
}

func byKind[U Unit](s *store) []U {
	var out []U
	for id, reg := range s.byID {
		if u, ok := reg.unit.(U); ok {
			_ = id
			out = append(out, u)
		}
	}
	return out
}

// reachableChains lists the nested-resource prefixes from which id is
// visible: its owner's full subtree, plus each ancestor prefix reached by
// successive export promotion (spec.md §4.1.5).
func (s *store) reachableChains(reg *registration) [][]ID {
	chain := append([]ID(nil), reg.ownerPath...)
	if reg.ownerID != "" {
		chain = append(chain, reg.ownerID)
	}
	chains := [][]ID{append([]ID(nil), chain...)}
	for len(chain) > 0 {
		parentOwnerID := chain[len(chain)-1]
		ownerReg, ok := s.byID[parentOwnerID]
		if !ok {
			break
		}
		ownerRes, ok := ownerReg.unit.(*Resource)
		if !ok || !ownerRes.exportsID(reg.unit.ID()) {
			break
		}
		chain = chain[:len(chain)-1]
		chains = append(chains, append([]ID(nil), chain...))
	}
	return chains
}

func isPrefix(prefix, chain []ID) bool {
	if len(prefix) > len(chain) {
		return false
	}
	for i, v := range prefix {
		if chain[i] != v {
			return false
		}
	}
	return true
}

// visibleFrom reports whether the unit registered as target can be resolved
// by a consumer whose own owner chain is consumerChain (ownerPath plus its
// direct owner id, or nil/empty for a root-level consumer).
func (s *store) visibleFrom(targetID ID, consumerChain []ID) bool {
	reg, ok := s.byID[targetID]
	if !ok {
		return false
	}
	for _, chain := range s.reachableChains(reg) {
		if isPrefix(chain, consumerChain) {
			return true
		}
	}
	return false
}

func consumerChainOf(reg *registration) []ID {
	chain := append([]ID(nil), reg.ownerPath...)
	if reg.ownerID != "" {
		chain = append(chain, reg.ownerID)
	}
	return chain
}
