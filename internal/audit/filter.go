package audit

// Filter is a per-sink predicate over event fields. The zero value accepts
// everything. Evaluation is side-effect-free and constant time with respect
// to the event.
type Filter struct {
	// EventTypes limits the sink to the listed types. Empty means all.
	EventTypes []EventType `json:"event_types,omitempty" mapstructure:"event_types"`
	// MinSeverity drops events below the floor. Empty means no floor.
	MinSeverity Severity `json:"min_severity,omitempty" mapstructure:"min_severity"`
	// ActorKinds limits the sink to events from the listed actor kinds.
	// Empty means all. Events without an actor pass this check.
	ActorKinds []ActorKind `json:"actor_kinds,omitempty" mapstructure:"actor_kinds"`
	// IncludeAnonymous admits events whose actor kind is anonymous or
	// whose actor is absent entirely. Configuration sets it to true only
	// when the whole filter block is empty.
	IncludeAnonymous bool `json:"include_anonymous" mapstructure:"include_anonymous"`

	types map[EventType]struct{}
	kinds map[ActorKind]struct{}
}

// AcceptAll is the filter that admits every event.
func AcceptAll() Filter {
	return Filter{IncludeAnonymous: true}
}

// Compile builds the lookup sets. Call once after construction; Accepts on
// an uncompiled filter still works but scans the slices.
func (f *Filter) Compile() {
	if len(f.EventTypes) > 0 {
		f.types = make(map[EventType]struct{}, len(f.EventTypes))
		for _, t := range f.EventTypes {
			f.types[t] = struct{}{}
		}
	}
	if len(f.ActorKinds) > 0 {
		f.kinds = make(map[ActorKind]struct{}, len(f.ActorKinds))
		for _, k := range f.ActorKinds {
			f.kinds[k] = struct{}{}
		}
	}
}

// Accepts evaluates the predicate: severity floor, then event-type set,
// then anonymous inclusion (anonymous and actor-less events are decided
// there and skip the actor-kind set), then actor-kind set.
func (f *Filter) Accepts(e *EnrichedEvent) bool {
	base := &e.Base

	if f.MinSeverity != "" && !base.Severity.AtLeast(f.MinSeverity) {
		return false
	}

	if len(f.EventTypes) > 0 {
		if f.types != nil {
			if _, ok := f.types[base.Type]; !ok {
				return false
			}
		} else if !containsType(f.EventTypes, base.Type) {
			return false
		}
	}

	anonymous := base.Actor == nil || base.Actor.Kind == ActorAnonymous
	if anonymous {
		return f.IncludeAnonymous
	}

	if len(f.ActorKinds) > 0 {
		if f.kinds != nil {
			if _, ok := f.kinds[base.Actor.Kind]; !ok {
				return false
			}
		} else if !containsKind(f.ActorKinds, base.Actor.Kind) {
			return false
		}
	}
	return true
}

func containsType(ts []EventType, t EventType) bool {
	for _, v := range ts {
		if v == t {
			return true
		}
	}
	return false
}

func containsKind(ks []ActorKind, k ActorKind) bool {
	for _, v := range ks {
		if v == k {
			return true
		}
	}
	return false
}
