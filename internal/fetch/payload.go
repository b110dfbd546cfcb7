package fetch

// DocFormat names a supported binary document format.
type DocFormat string

const (
	FormatPDF  DocFormat = "pdf"
	FormatDOCX DocFormat = "docx"
	FormatXLSX DocFormat = "xlsx"
	FormatCSV  DocFormat = "csv"
)

// Payload is the tagged outcome of a fetch; exactly one field group is
// inhabited, selected by Kind.
type PayloadKind string

const (
	KindHTML      PayloadKind = "html"
	KindFeed      PayloadKind = "feed"
	KindDocument  PayloadKind = "document"
	KindChallenge PayloadKind = "challenge"
)

type Payload struct {
	Kind PayloadKind

	// HTML / Challenge / Feed
	Body     []byte
	FinalURL string

	// Document
	Format DocFormat

	// Challenge
	Reason string

	// Upstream status of the final hop.
	Status int
}
