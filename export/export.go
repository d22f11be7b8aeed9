// Package export renders contact records as downloadable files.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/snatch/contact"
)

// Format selects an encoder.
type Format string

const (
	CSV      Format = "csv"
	XLSX     Format = "xlsx" // Excel-readable HTML table
	JSON     Format = "json"
	VCard    Format = "vcard"
	Markdown Format = "markdown"
)

// Formats lists every supported format.
var Formats = []Format{CSV, XLSX, JSON, VCard, Markdown}

// ParseFormat accepts format names and common aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return CSV, nil
	case "xlsx", "xls", "excel":
		return XLSX, nil
	case "json":
		return JSON, nil
	case "vcard", "vcf":
		return VCard, nil
	case "markdown", "md":
		return Markdown, nil
	}
	return "", fmt.Errorf("export: unknown format %q", s)
}

// File is an encoded export.
type File struct {
	MimeType  string
	Content   []byte
	Extension string
}

var header = []string{"Name", "Phone", "Last Message"}

// Encode renders recs in format f.
func Encode(recs []contact.Record, f Format) (File, error) {
	switch f {
	case CSV:
		return encodeCSV(recs), nil
	case XLSX:
		return encodeXLS(recs), nil
	case JSON:
		return encodeJSON(recs)
	case VCard:
		return encodeVCard(recs), nil
	case Markdown:
		return encodeMarkdown(recs)
	}
	return File{}, fmt.Errorf("export: unknown format %q", f)
}

// Filename returns the download name of file at time t.
func Filename(file File, t time.Time) string {
	ts := strings.NewReplacer(":", "-", ".", "-").Replace(t.UTC().Format("2006-01-02T15:04:05.000Z"))
	return fmt.Sprintf("whatsapp-contacts-%s.%s", ts, file.Extension)
}

// encodeCSV quotes every field, which encoding/csv does not do.
func encodeCSV(recs []contact.Record) File {
	var b bytes.Buffer
	b.WriteString("\ufeff")
	b.WriteString(strings.Join(header, ","))
	for _, r := range recs {
		b.WriteByte('\n')
		b.WriteString(quote(r.Name) + "," + quote(r.Phone) + "," + quote(r.LastMessage))
	}
	return File{MimeType: "text/csv;charset=utf-8", Content: b.Bytes(), Extension: "csv"}
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

var cellPolicy = bluemonday.StrictPolicy()

func htmlTable(recs []contact.Record) string {
	var b strings.Builder
	b.WriteString("<table><thead><tr>")
	for _, h := range header {
		b.WriteString("<th>" + h + "</th>")
	}
	b.WriteString("</tr></thead><tbody>")
	for _, r := range recs {
		b.WriteString("<tr>")
		for _, cell := range []string{r.Name, r.Phone, r.LastMessage} {
			b.WriteString("<td>" + cellPolicy.Sanitize(cell) + "</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</tbody></table>")
	return b.String()
}

func encodeXLS(recs []contact.Record) File {
	doc := `<html xmlns:x="urn:schemas-microsoft-com:office:excel"><head><meta charset="UTF-8"></head><body>` +
		htmlTable(recs) + `</body></html>`
	return File{MimeType: "application/vnd.ms-excel", Content: []byte(doc), Extension: "xls"}
}

func encodeJSON(recs []contact.Record) (File, error) {
	if recs == nil {
		recs = []contact.Record{}
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return File{}, fmt.Errorf("export: json: %w", err)
	}
	return File{MimeType: "application/json", Content: data, Extension: "json"}, nil
}

// encodeVCard writes one vCard 3.0 per record. Without a phone the
// name goes into TEL, so unsaved numbers shown as names still dial.
func encodeVCard(recs []contact.Record) File {
	cards := make([]string, 0, len(recs))
	for _, r := range recs {
		name := strings.ReplaceAll(r.Name, "\n", " ")
		if name == "" {
			name = "Unknown"
		}
		tel := r.Phone
		if tel == "" {
			tel = r.Name
		}
		cards = append(cards, "BEGIN:VCARD\nVERSION:3.0\nFN:"+vEscape(name)+"\nTEL;TYPE=CELL:"+vEscape(tel)+"\nEND:VCARD")
	}
	return File{MimeType: "text/vcard", Content: []byte(strings.Join(cards, "\n")), Extension: "vcf"}
}

var vReplacer = strings.NewReplacer(`\`, `\\`, ",", `\,`, ";", `\;`, "\n", `\n`)

func vEscape(s string) string { return vReplacer.Replace(s) }

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	),
)

func encodeMarkdown(recs []contact.Record) (File, error) {
	md, err := mdConverter.ConvertString(htmlTable(recs))
	if err != nil {
		return File{}, fmt.Errorf("export: markdown: %w", err)
	}
	return File{MimeType: "text/markdown;charset=utf-8", Content: []byte(md + "\n"), Extension: "md"}, nil
}
