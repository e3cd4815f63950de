package messaging

// Button is an inline keyboard button. Exactly one of Data or URL is set.
type Button struct {
	Text string `json:"text"`
	Data string `json:"callback_data,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Keyboard is an inline keyboard laid out in rows.
type Keyboard struct {
	Rows [][]Button `json:"inline_keyboard"`
}

// NewKeyboard builds a keyboard with one button per row.
func NewKeyboard(buttons ...Button) *Keyboard {
	kb := &Keyboard{Rows: make([][]Button, 0, len(buttons))}
	for _, b := range buttons {
		kb.Rows = append(kb.Rows, []Button{b})
	}
	return kb
}

// CallbackButton creates a button that sends data back to the bot.
func CallbackButton(text, data string) Button {
	return Button{Text: text, Data: data}
}

// URLButton creates a button that opens a link.
func URLButton(text, url string) Button {
	return Button{Text: text, URL: url}
}
