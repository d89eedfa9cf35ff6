package integrations

// Outcome is the result of an update: a provider either returns one event or, for
// series and multi-record providers, several. Callers read it through Events or First.
type Outcome struct {
	single   *ProviderEvent
	multiple []ProviderEvent
}

// Single wraps one updated event.
func Single(e ProviderEvent) Outcome {
	return Outcome{single: &e}
}

// Multiple wraps several updated events.
func Multiple(es []ProviderEvent) Outcome {
	return Outcome{multiple: append([]ProviderEvent(nil), es...)}
}

// IsMultiple reports whether the provider answered with several events.
func (o Outcome) IsMultiple() bool { return o.single == nil && o.multiple != nil }

// IsZero reports whether the outcome carries nothing.
func (o Outcome) IsZero() bool { return o.single == nil && len(o.multiple) == 0 }

// Events normalizes the outcome to a slice.
func (o Outcome) Events() []ProviderEvent {
	if o.single != nil {
		return []ProviderEvent{*o.single}
	}
	return o.multiple
}

// First returns the first event of the outcome.
func (o Outcome) First() (ProviderEvent, bool) {
	es := o.Events()
	if len(es) == 0 {
		return ProviderEvent{}, false
	}
	return es[0], true
}
