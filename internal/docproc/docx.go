package docproc

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// processDOCX 先输出正文段落，再输出表格行；单元格用 " | " 连接，各项之间空一行。
func processDOCX(path string) Result {
	paragraphs, rows, err := readDOCX(path)
	if err != nil {
		return failure(FormatDOCX, fmt.Sprintf("docx processing failed: %v", err))
	}
	content := append(paragraphs, rows...)
	if len(content) == 0 {
		return failure(FormatDOCX, "document contains no text")
	}
	return Result{
		Success:        true,
		Text:           strings.Join(content, "\n\n"),
		PagesProcessed: 1,
	}
}

func readDOCX(path string) (paragraphs, rows []string, err error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, err
	}
	defer zr.Close()

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return nil, nil, errors.New("word/document.xml not found")
	}
	rc, err := doc.Open()
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()
	return parseDocumentXML(rc)
}

// parseDocumentXML 遍历 token 流。表格外的 w:p 作为段落，表格内按 w:tr / w:tc 组织。
func parseDocumentXML(r io.Reader) (paragraphs, rows []string, err error) {
	dec := xml.NewDecoder(r)

	var (
		tableDepth int
		inText     bool
		para       strings.Builder
		cell       strings.Builder
		rowCells   []string
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "tbl":
				tableDepth++
			case "tr":
				if tableDepth == 1 {
					rowCells = rowCells[:0]
				}
			case "tc":
				if tableDepth == 1 {
					cell.Reset()
				}
			case "p":
				if tableDepth == 0 {
					para.Reset()
				} else if cell.Len() > 0 {
					cell.WriteByte(' ')
				}
			case "t":
				inText = true
			case "tab":
				writeTo(tableDepth, &para, &cell, "\t")
			case "br", "cr":
				writeTo(tableDepth, &para, &cell, "\n")
			}
		case xml.EndElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "tbl":
				tableDepth--
			case "tc":
				if tableDepth == 1 {
					if text := strings.TrimSpace(cell.String()); text != "" {
						rowCells = append(rowCells, text)
					}
				}
			case "tr":
				if tableDepth == 1 && len(rowCells) > 0 {
					rows = append(rows, strings.Join(rowCells, " | "))
				}
			case "p":
				if tableDepth == 0 {
					if text := para.String(); strings.TrimSpace(text) != "" {
						paragraphs = append(paragraphs, text)
					}
				}
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText {
				writeTo(tableDepth, &para, &cell, string(t))
			}
		}
	}
	return paragraphs, rows, nil
}

func writeTo(tableDepth int, para, cell *strings.Builder, s string) {
	if tableDepth == 0 {
		para.WriteString(s)
	} else {
		cell.WriteString(s)
	}
}
