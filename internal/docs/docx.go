package docs

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"html"
	"io"
	"strings"

	"sumi/internal/apperr"
	"sumi/internal/markdown"
)

// convertDOCX unpacks the main document part, rebuilds it as simple
// HTML, and sends it through the normal Markdown pipeline.
func convertDOCX(data []byte, srcURL string) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", apperr.New(apperr.KindDocumentConversion, "not a DOCX archive")
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			if err != nil {
				return "", apperr.New(apperr.KindDocumentConversion, "DOCX document part unreadable")
			}
			docXML, err = io.ReadAll(io.LimitReader(rc, 20<<20))
			rc.Close()
			if err != nil {
				return "", apperr.New(apperr.KindDocumentConversion, "DOCX document part unreadable")
			}
			break
		}
	}
	if docXML == nil {
		return "", apperr.New(apperr.KindDocumentConversion, "DOCX missing document part")
	}

	htmlDoc, err := docxToHTML(docXML)
	if err != nil {
		return "", apperr.New(apperr.KindDocumentConversion, "DOCX parse failed")
	}

	md, err := markdown.Convert(htmlDoc, srcURL)
	if err != nil {
		return "", apperr.New(apperr.KindDocumentConversion, "DOCX conversion failed")
	}
	if strings.TrimSpace(md) == "" {
		return "", apperr.New(apperr.KindDocumentConversion, "DOCX contains no text")
	}
	return md, nil
}

// docxToHTML walks the WordprocessingML stream, turning paragraphs
// into <p>/<h1..h6> and runs into text. Tables become rows of
// tab-joined cells; everything else is ignored.
func docxToHTML(docXML []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(docXML))

	var b strings.Builder
	b.WriteString("<html><body>")

	var para strings.Builder
	paraTag := "p"
	inPara := false

	flush := func() {
		if !inPara {
			return
		}
		text := strings.TrimSpace(para.String())
		if text != "" {
			b.WriteString("<" + paraTag + ">" + html.EscapeString(text) + "</" + paraTag + ">")
		}
		para.Reset()
		paraTag = "p"
		inPara = false
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				flush()
				inPara = true
			case "pStyle":
				if tag := headingTag(attrVal(t, "val")); tag != "" {
					paraTag = tag
				}
			case "t":
				var text string
				if err := dec.DecodeElement(&text, &t); err == nil {
					para.WriteString(text)
				}
			case "tab":
				para.WriteString("\t")
			case "br":
				para.WriteString(" ")
			}
		case xml.EndElement:
			if t.Name.Local == "p" {
				flush()
			}
		}
	}
	flush()

	b.WriteString("</body></html>")
	return b.String(), nil
}

func headingTag(style string) string {
	style = strings.ToLower(style)
	if !strings.HasPrefix(style, "heading") {
		if style == "title" {
			return "h1"
		}
		return ""
	}
	switch strings.TrimPrefix(style, "heading") {
	case "1":
		return "h1"
	case "2":
		return "h2"
	case "3":
		return "h3"
	case "4":
		return "h4"
	case "5":
		return "h5"
	case "6":
		return "h6"
	}
	return ""
}

func attrVal(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
