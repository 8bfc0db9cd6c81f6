package channel

import (
	"fmt"
	"slices"
)

// Kind is the capability a channel provides. The set is closed: only the
// kinds declared here can be opened.
type Kind string

const (
	KindVariables     Kind = "variables"
	KindLSP           Kind = "lsp"
	KindDAP           Kind = "dap"
	KindPlot          Kind = "plot"
	KindDataExplorer  Kind = "data_explorer"
	KindUI            Kind = "ui"
	KindHelp          Kind = "help"
	KindConnection    Kind = "connection"
	KindWidget        Kind = "widget"
	KindWidgetControl Kind = "widget_control"
)

var kinds = []Kind{
	KindVariables,
	KindLSP,
	KindDAP,
	KindPlot,
	KindDataExplorer,
	KindUI,
	KindHelp,
	KindConnection,
	KindWidget,
	KindWidgetControl,
}

// Kinds returns every known kind.
func Kinds() []Kind {
	return slices.Clone(kinds)
}

func (k Kind) Valid() bool {
	return slices.Contains(kinds, k)
}

// ParseKind converts a target name received from a kernel into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}
