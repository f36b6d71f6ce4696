package snapshot

import "encoding/json"

// Encode serializes a document to the wire form Decode accepts.
func Encode(items []Item) ([]byte, error) {
	return json.Marshal(items)
}

// Each item marshals with its type tag, mirroring the wire form Decode
// accepts, so a rendered document round-trips through the HTTP layer.

func (p Paragraph) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type Kind   `json:"type"`
		Text string `json:"text"`
	}{KindParagraph, p.Text})
}

func (h Heading) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  Kind   `json:"type"`
		Level int    `json:"level"`
		Text  string `json:"text"`
	}{KindHeading, h.Level, h.Text})
}

func (l ListItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Text     string `json:"text"`
		Children []Item `json:"children,omitempty"`
	}{l.Text, l.Children})
}

func (l BulletList) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  Kind       `json:"type"`
		Items []ListItem `json:"items"`
	}{KindBulletList, l.Items})
}

func (l NumberedList) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  Kind       `json:"type"`
		Items []ListItem `json:"items"`
	}{KindNumberedList, l.Items})
}

func (q Quote) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type Kind   `json:"type"`
		Text string `json:"text"`
	}{KindQuote, q.Text})
}

func (c Code) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     Kind   `json:"type"`
		Language string `json:"language,omitempty"`
		Text     string `json:"text"`
	}{KindCode, c.Language, c.Text})
}

func (t Todo) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    Kind   `json:"type"`
		Checked bool   `json:"checked"`
		Text    string `json:"text"`
	}{KindTodo, t.Checked, t.Text})
}
