package convert

// Kind selects one of the two conversion directions.
type Kind string

const (
	KindImagesToPDF Kind = "images-to-pdf"
	KindPDFToImages Kind = "pdf-to-images"
)

// InputFile is one uploaded file handed to the engine. Data is fully in
// memory: uploads are bounded by validation limits before they get here.
type InputFile struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// PageImage is one rendered page, named so a directory listing sorts in
// document order.
type PageImage struct {
	Name string `json:"name"`
	Data []byte `json:"-"`
}

// Outcome is the artifact of a successful pipeline run.
type Outcome struct {
	// Filename is the attachment name used in the HTTP response.
	Filename string `json:"filename"`
	// StampedName is the timestamped name recorded in download history.
	StampedName string `json:"stamped_name"`
	ContentType string `json:"content_type"`
	Pages       int    `json:"pages"`
	Data        []byte `json:"-"`
}
