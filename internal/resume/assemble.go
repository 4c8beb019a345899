package resume

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/print-resume/backend/internal/models"
)

// Assemble joins a header and a stripped tail.
func Assemble(header, tail []string) *models.OutputDocument {
	return &models.OutputDocument{Header: header, Body: tail}
}

// WriteDocument writes every line followed by a newline.
func WriteDocument(w io.Writer, doc *models.OutputDocument) (int64, error) {
	bw := bufio.NewWriterSize(w, 256*1024)
	var n int64
	for _, part := range [][]string{doc.Header, doc.Body} {
		for _, line := range part {
			c, err := bw.WriteString(line)
			n += int64(c)
			if err != nil {
				return n, err
			}
			if err := bw.WriteByte('\n'); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, bw.Flush()
}

// SaveDocument writes doc to path, replacing any existing file.
func SaveDocument(path string, doc *models.OutputDocument) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	if _, err := WriteDocument(f, doc); err != nil {
		f.Close()
		return fmt.Errorf("writing output file: %w", err)
	}
	return f.Close()
}
