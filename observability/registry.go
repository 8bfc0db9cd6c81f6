package observability

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
)

// ErrUnknownObserver is returned for a name nothing was registered under.
var ErrUnknownObserver = errors.New("unknown observer")

var (
	registryMu sync.RWMutex
	registry   = map[string]Observer{
		"noop": NoOpObserver{},
		"slog": NewSlogObserver(slog.Default()),
		"json": NewSlogObserver(slog.New(slog.NewJSONHandler(os.Stderr, nil))),
	}
)

// GetObserver resolves a comma-separated list of registered names, e.g.
// "slog" or "slog,metrics". Several names are combined into a MultiObserver
// in the order given.
func GetObserver(names string) (Observer, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	var resolved []Observer
	for name := range strings.SplitSeq(names, ",") {
		name = strings.TrimSpace(name)
		obs, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownObserver, name)
		}
		resolved = append(resolved, obs)
	}

	if len(resolved) == 1 {
		return resolved[0], nil
	}
	return NewMultiObserver(resolved...), nil
}

// RegisterObserver adds or replaces a named observer.
func RegisterObserver(name string, observer Observer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = observer
}

// ObserverNames lists the registered names in sorted order.
func ObserverNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
