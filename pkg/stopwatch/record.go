package stopwatch

// EventRecord is the serializable form of an Event.
type EventRecord struct {
	ID       uint64   `json:"id"`
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Periods  []Period `json:"periods"`
}

// SectionRecord is the serializable form of a Section and its subtree.
type SectionRecord struct {
	ID       uint64          `json:"id"`
	Name     string          `json:"name,omitempty"`
	UnitID   string          `json:"unitId,omitempty"`
	Events   []EventRecord   `json:"events"`
	Sections []SectionRecord `json:"sections"`
}

// PeriodCount counts every period in the subtree.
func (r SectionRecord) PeriodCount() int {
	n := 0
	stack := []*SectionRecord{&r}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range cur.Events {
			n += len(e.Periods)
		}
		for i := range cur.Sections {
			stack = append(stack, &cur.Sections[i])
		}
	}
	return n
}

// IsEmpty reports whether the record holds no events and no sections.
func (r SectionRecord) IsEmpty() bool {
	return len(r.Events) == 0 && len(r.Sections) == 0
}
