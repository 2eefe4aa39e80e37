package image

// AltKind distinguishes an absent alt text from one that was deliberately
// left empty.
type AltKind int

const (
	AltUnset AltKind = iota
	AltEmpty
	AltText
)

// Alt is an image's alternative text.
type Alt struct {
	Kind AltKind
	Text string
}

// TextAlt returns an Alt carrying s, or an unset Alt when s is empty.
func TextAlt(s string) Alt {
	if s == "" {
		return Alt{}
	}
	return Alt{Kind: AltText, Text: s}
}

// EmptyAlt returns an Alt that renders as alt="".
func EmptyAlt() Alt { return Alt{Kind: AltEmpty} }

// ParseAlt reads alt text written by an author. The marker string requests
// an explicitly empty alt attribute; an empty marker disables that.
func ParseAlt(s, marker string) Alt {
	if marker != "" && s == marker {
		return EmptyAlt()
	}
	return TextAlt(s)
}

// IsEmpty reports whether the alt was deliberately emptied.
func (a Alt) IsEmpty() bool { return a.Kind == AltEmpty }

// Value returns the text, or "" unless the kind is AltText.
func (a Alt) Value() string {
	if a.Kind != AltText {
		return ""
	}
	return a.Text
}
