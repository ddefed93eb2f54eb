package blob

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// HeaderSymbol derives the C array name for a generated header from the
// output file's base name: dots become underscores, then the platform
// extension (without its dot) is appended.
func HeaderSymbol(outputFileWithoutExt, outputExt string) string {
	name := filepath.Base(outputFileWithoutExt)
	name = strings.ReplaceAll(name, ".", "_")

	return "g_" + name + "_" + strings.TrimPrefix(outputExt, ".")
}

// HeaderWriter formats bytes as the body of a C byte-array header: decimal
// unsigned literals, each followed by ", ", wrapped whenever the running
// line would exceed 128 characters.
type HeaderWriter struct {
	w io.Writer
	n int
}

func NewHeaderWriter(w io.Writer, symbol string) (*HeaderWriter, error) {
	if _, err := fmt.Fprintf(w, "const uint8_t %s[] = {", symbol); err != nil {
		return nil, err
	}

	return &HeaderWriter{w: w, n: 129}, nil
}

// WriteBytes appends data to the array body.
func (h *HeaderWriter) WriteBytes(data []byte) error {
	for _, d := range data {
		if h.n > 128 {
			if _, err := io.WriteString(h.w, "\n    "); err != nil {
				return err
			}
			h.n = 0
		}

		if _, err := fmt.Fprintf(h.w, "%d, ", d); err != nil {
			return err
		}

		switch {
		case d < 10:
			h.n += 3
		case d < 100:
			h.n += 4
		default:
			h.n += 5
		}
	}

	return nil
}

// Close terminates the array body.
func (h *HeaderWriter) Close() error {
	_, err := io.WriteString(h.w, "\n};\n")
	return err
}
