package observability

import "context"

// MultiObserver forwards each event to its members in order. Nil and no-op
// members are skipped, and nested MultiObservers are flattened.
type MultiObserver struct {
	observers []Observer
}

func NewMultiObserver(observers ...Observer) *MultiObserver {
	m := &MultiObserver{}
	for _, obs := range observers {
		switch o := obs.(type) {
		case nil, NoOpObserver:
		case *MultiObserver:
			m.observers = append(m.observers, o.observers...)
		default:
			m.observers = append(m.observers, o)
		}
	}
	return m
}

func (m *MultiObserver) OnEvent(ctx context.Context, event Event) {
	for _, obs := range m.observers {
		obs.OnEvent(ctx, event)
	}
}

// Len reports how many observers receive events.
func (m *MultiObserver) Len() int {
	return len(m.observers)
}

// MinLevel wraps obs so it only sees events at or above floor.
func MinLevel(floor Level, obs Observer) Observer {
	return levelFilter{min: floor, next: OrNoOp(obs)}
}

type levelFilter struct {
	min  Level
	next Observer
}

func (f levelFilter) OnEvent(ctx context.Context, event Event) {
	if event.Level >= f.min {
		f.next.OnEvent(ctx, event)
	}
}
