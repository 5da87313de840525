package stopwatch

import "sync"

// Taggable binds a node to one unit of work.
type Taggable interface {
	SetTag(unitID string)
	// HasTag reports whether the node is tagged with unitID. An empty unitID
	// matches any tagged node.
	HasTag(unitID string) bool
	Tag() string
}

// Section groups events and nested sections. The root section of a tree has
// no name. A tagged section and everything below it belongs to a single unit
// of work; an untagged section is shared by everybody.
//
// Children are only ever linked in fully constructed, and readers get copies
// of the child lists, so a walk never observes a half built node.
type Section struct {
	id   uint64
	name string
	tree *Tree

	mu       sync.RWMutex
	tag      string
	events   []*Event
	sections []*Section
}

var _ Taggable = (*Section)(nil)

func newSection(tree *Tree, name string) *Section {
	return &Section{
		id:   nextID(),
		name: name,
		tree: tree,
	}
}

func (s *Section) ID() uint64 {
	if s == nil {
		return 0
	}
	return s.id
}

func (s *Section) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

func (s *Section) SetTag(unitID string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.tag = unitID
	s.mu.Unlock()
}

func (s *Section) HasTag(unitID string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if unitID == "" {
		return s.tag != ""
	}
	return s.tag == unitID
}

func (s *Section) Tag() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tag
}

// Section opens a new child section.
func (s *Section) Section(name string) *Section {
	if s == nil {
		return nil
	}
	child := newSection(s.tree, name)
	s.AttachSection(child)
	return child
}

// Child returns the first child section called name, or nil. Unlike
// Section it never creates one.
func (s *Section) Child(name string) *Section {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.sections {
		if c.name == name {
			return c
		}
	}
	return nil
}

// Unit opens a new child section owned by unitID.
func (s *Section) Unit(unitID, name string) *Section {
	if s == nil {
		return nil
	}
	child := newSection(s.tree, name)
	child.tag = unitID
	s.AttachSection(child)
	return child
}

// AttachSection links an existing section as the last child.
func (s *Section) AttachSection(child *Section) {
	if s == nil || child == nil {
		return
	}
	s.mu.Lock()
	s.sections = append(s.sections, child)
	s.mu.Unlock()
}

// RemoveSection unlinks child. It reports false when child was not linked,
// for instance because an earlier pass already removed it.
func (s *Section) RemoveSection(child *Section) bool {
	if s == nil || child == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.sections {
		if c == child {
			copy(s.sections[i:], s.sections[i+1:])
			s.sections[len(s.sections)-1] = nil
			s.sections = s.sections[:len(s.sections)-1]
			return true
		}
	}
	return false
}

// Event returns the event called name, or nil.
func (s *Section) Event(name string) *Event {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findEventLocked(name)
}

func (s *Section) findEventLocked(name string) *Event {
	for _, e := range s.events {
		if e.name == name {
			return e
		}
	}
	return nil
}

// NewEvent returns the event called name, creating it without opening a period.
func (s *Section) NewEvent(name, category string) *Event {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.findEventLocked(name); e != nil {
		return e
	}
	e := newEvent(s.tree, name, category)
	s.events = append(s.events, e)
	return e
}

// Start opens a period on the event called name, creating the event first
// when needed.
func (s *Section) Start(name, category string) *Event {
	return s.NewEvent(name, category).Start()
}

// Stop closes the open period of the event called name.
func (s *Section) Stop(name string) *Event {
	return s.Event(name).Stop()
}

// Lap closes the open period of the event called name and opens another.
func (s *Section) Lap(name string) *Event {
	return s.Event(name).Lap()
}

// Events returns a copy of the event list.
func (s *Section) Events() []*Event {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Event(nil), s.events...)
}

// Sections returns a copy of the child section list.
func (s *Section) Sections() []*Section {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Section(nil), s.sections...)
}

// Prune drops closed periods that started before cutoff, then drops events
// left without periods. It reports how many periods went away and whether the
// section ended up with neither events nor child sections.
func (s *Section) Prune(cutoff int64) (removed int, empty bool) {
	if s == nil {
		return 0, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	for _, e := range s.events {
		n, drained := e.prune(cutoff)
		removed += n
		if drained {
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(s.events); i++ {
		s.events[i] = nil
	}
	s.events = kept
	return removed, len(s.events) == 0 && len(s.sections) == 0
}

// Record snapshots the section and its subtree.
func (s *Section) Record() SectionRecord {
	if s == nil {
		return SectionRecord{}
	}
	rec := SectionRecord{
		ID:       s.id,
		Name:     s.name,
		UnitID:   s.Tag(),
		Events:   []EventRecord{},
		Sections: []SectionRecord{},
	}
	for _, e := range s.Events() {
		rec.Events = append(rec.Events, e.Record())
	}
	for _, c := range s.Sections() {
		rec.Sections = append(rec.Sections, c.Record())
	}
	return rec
}
