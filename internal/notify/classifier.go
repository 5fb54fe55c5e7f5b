package notify

import "encoding/json"

// ContentKind is the closed classification of a text message body. Chat
// clients embed structured payloads (prescriptions, doctor's notes) as JSON
// inside the content field; everything else, including JSON that does not
// parse or carries an unknown discriminator, is plain text.
type ContentKind int

const (
	KindPlainText ContentKind = iota
	KindPrescription
	KindClinicalNote
)

// Classify inspects a message body and returns its kind. Malformed input is
// never an error, only plain text.
func Classify(content string) ContentKind {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(content), &probe); err != nil {
		return KindPlainText
	}
	switch probe.Type {
	case "prescription":
		return KindPrescription
	case "doctor_note", "clinical_note":
		return KindClinicalNote
	default:
		return KindPlainText
	}
}
