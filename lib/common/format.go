package common

import (
	"fmt"
	"strings"
)

// ConfigWriter renders configuration structs as aligned sections
type ConfigWriter struct {
	sb strings.Builder
}

// Section starts a new upper-cased section
func (w *ConfigWriter) Section(title string) {
	w.sb.WriteString("\n")
	w.sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
}

// Field adds a name/value line to the current section
func (w *ConfigWriter) Field(name string, value any) {
	w.sb.WriteString(fmt.Sprintf("  %-22s: %v\n", name, value))
}

func (w *ConfigWriter) String() string {
	return w.sb.String()
}
