// Package docmerge produces personalized documents from a DOCX template.
// A template is a zip container of OOXML parts; only the text-bearing
// markup sections (document body, headers, footers) are rewritten. Every
// other part (styles, layout, embedded media) is copied byte-identical,
// so a merged document differs from its template only in substituted text.
package docmerge

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/beevik/etree"
	"github.com/google/uuid"

	"github.com/mhollstein/briefwerk/internal/domain"
	"github.com/mhollstein/briefwerk/internal/placeholder"
)

// wordTextTag is the wordprocessingml text leaf element (w:t). Substitution
// happens only inside these leaves, and only when the leaf's raw text
// carries a placeholder marker, to avoid needless structural churn.
const (
	wordTextSpace = "w"
	wordTextTag   = "t"
	tokenMarker   = "${"
)

// Merger merges data rows into DOCX templates. Merged documents are written
// into workDir; the template on disk is never mutated.
type Merger struct {
	workDir string
}

// NewMerger creates a Merger writing merged documents under workDir.
func NewMerger(workDir string) (*Merger, error) {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create merge work directory: %w", err)
	}
	return &Merger{workDir: workDir}, nil
}

// Merge produces a new personalized document for one data row. Any parse
// error on a markup section is fatal for this merge and leaves no partial
// output behind; callers run Merge inside a per-row loop so one bad row
// does not abort the batch.
func (m *Merger) Merge(templatePath string, row domain.DataRow) (string, error) {
	in, err := zip.OpenReader(templatePath)
	if err != nil {
		return "", domain.WrapError(err, domain.EINVALID, "docmerge.merge", "could not open document template")
	}
	defer in.Close()

	outPath := filepath.Join(m.workDir, fmt.Sprintf("merged_%s.docx", uuid.NewString()))
	outFile, err := os.Create(outPath)
	if err != nil {
		return "", domain.Internal(err, "docmerge.merge", "could not create merged document")
	}

	if err := m.rewrite(in, outFile, row); err != nil {
		outFile.Close()
		os.Remove(outPath)
		return "", err
	}
	if err := outFile.Close(); err != nil {
		os.Remove(outPath)
		return "", domain.Internal(err, "docmerge.merge", "could not finalize merged document")
	}
	return outPath, nil
}

func (m *Merger) rewrite(in *zip.ReadCloser, outFile *os.File, row domain.DataRow) error {
	out := zip.NewWriter(outFile)

	for _, part := range in.File {
		if !isMarkupSection(part.Name) {
			// Raw copy keeps the compressed entry byte-identical.
			if err := out.Copy(part); err != nil {
				return domain.Internal(err, "docmerge.merge", fmt.Sprintf("could not copy document part %s", part.Name))
			}
			continue
		}

		content, err := readPart(part)
		if err != nil {
			return domain.Internal(err, "docmerge.merge", fmt.Sprintf("could not read document part %s", part.Name))
		}

		substituted, err := substituteTextLeaves(content, row)
		if err != nil {
			return domain.WrapError(err, domain.EINVALID, "docmerge.merge",
				fmt.Sprintf("document part %s is not valid markup", part.Name))
		}

		w, err := out.CreateHeader(&zip.FileHeader{
			Name:     part.Name,
			Method:   zip.Deflate,
			Modified: part.Modified,
		})
		if err != nil {
			return domain.Internal(err, "docmerge.merge", fmt.Sprintf("could not write document part %s", part.Name))
		}
		if _, err := w.Write(substituted); err != nil {
			return domain.Internal(err, "docmerge.merge", fmt.Sprintf("could not write document part %s", part.Name))
		}
	}

	if err := out.Close(); err != nil {
		return domain.Internal(err, "docmerge.merge", "could not finalize merged document")
	}
	return nil
}

// isMarkupSection reports whether a zip entry is one of the text-bearing
// markup sections: the document body or any header/footer part.
func isMarkupSection(name string) bool {
	if name == "word/document.xml" {
		return true
	}
	if !strings.HasSuffix(name, ".xml") {
		return false
	}
	return strings.HasPrefix(name, "word/header") || strings.HasPrefix(name, "word/footer")
}

func readPart(part *zip.File) ([]byte, error) {
	rc, err := part.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// substituteTextLeaves parses one markup section and runs raw-text
// placeholder substitution on every w:t leaf whose text contains a
// placeholder marker.
func substituteTextLeaves(content []byte, row domain.DataRow) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(content); err != nil {
		return nil, err
	}

	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("markup section has no root element")
	}

	var walk func(el *etree.Element)
	walk = func(el *etree.Element) {
		if el.Space == wordTextSpace && el.Tag == wordTextTag {
			if text := el.Text(); strings.Contains(text, tokenMarker) {
				el.SetText(placeholder.Expand(text, row))
			}
			return
		}
		for _, child := range el.ChildElements() {
			walk(child)
		}
	}
	walk(root)

	return doc.WriteToBytes()
}
