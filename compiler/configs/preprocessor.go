package configs

import (
	"fmt"
	"strings"
)

// BlockStack tracks the nested #ifdef/#if/#else/#endif states of the config
// preprocessor. The bottom entry is always true; lines are only processed
// while the top of the stack is true.
type BlockStack struct {
	blocks []bool
}

func NewBlockStack() *BlockStack {
	return &BlockStack{blocks: []bool{true}}
}

// Active reports whether lines at the current nesting level are processed.
func (b *BlockStack) Active() bool {
	return b.blocks[len(b.blocks)-1]
}

// Directive applies a preprocessor directive found on the line, if any.
// It reports whether the line was a directive. Unbalanced #else/#endif are
// hard errors.
func (b *BlockStack) Directive(line string, globalDefines []string) (bool, error) {
	switch {
	case strings.Contains(line, "#ifdef"):
		rest := line[strings.Index(line, "#ifdef")+len("#ifdef"):]
		name := strings.TrimSpace(rest)
		b.blocks = append(b.blocks, b.Active() && isDefined(name, globalDefines))

	case strings.Contains(line, "#if 1"):
		b.blocks = append(b.blocks, b.Active())

	case strings.Contains(line, "#if 0"):
		b.blocks = append(b.blocks, false)

	case strings.Contains(line, "#endif"):
		if len(b.blocks) == 1 {
			return true, fmt.Errorf("unexpected '#endif'")
		}
		b.blocks = b.blocks[:len(b.blocks)-1]

	case strings.Contains(line, "#else"):
		if len(b.blocks) < 2 {
			return true, fmt.Errorf("unexpected '#else'")
		}
		if b.blocks[len(b.blocks)-2] {
			b.blocks[len(b.blocks)-1] = !b.blocks[len(b.blocks)-1]
		}

	default:
		return false, nil
	}

	return true, nil
}

func isDefined(name string, defines []string) bool {
	for _, define := range defines {
		if define == name {
			return true
		}
	}
	return false
}
