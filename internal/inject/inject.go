// Package inject renders selected facts into the advisory text block the
// host places into the generation context. Rendering is pure: fixed
// scaffolding, one bullet per fact, a placeholder line when the store has
// nothing to say.
package inject

import (
	"strings"

	"github.com/honey991127/char-knowledge/internal/memory"
)

// PersonaPlaceholder is the literal token for the addressed persona. The
// host substitutes it during prompt assembly; this package never does.
const PersonaPlaceholder = "{{char}}"

const (
	header1   = "【權限：以下是 " + PersonaPlaceholder + " 的私密內心筆記；NPC/旁白不得直接知道】"
	header2   = "【" + PersonaPlaceholder + " 已知的使用者資訊（未列出=未知）】"
	emptyLine = "- （尚無）"
)

// Build renders the advisory block for the selected facts.
func Build(selected []*memory.Fact) string {
	lines := make([]string, 0, len(selected)+2)
	lines = append(lines, header1, header2)

	if len(selected) == 0 {
		lines = append(lines, emptyLine)
	}
	for _, f := range selected {
		lines = append(lines, "- "+f.Value)
	}

	return strings.Join(lines, "\n")
}
