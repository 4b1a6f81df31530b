package telegram

// User is a Telegram account, either the bot itself or a message sender.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// Chat is the conversation a message belongs to.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// Message is an incoming message relevant to the bot. Only text messages
// are handled; everything else arrives with an empty Text and is ignored.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// Update is one entry from the getUpdates long poll.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// KeyboardButton is a single reply keyboard button.
type KeyboardButton struct {
	Text string `json:"text"`
}

// ReplyKeyboardMarkup renders a persistent button keyboard under the input
// field.
type ReplyKeyboardMarkup struct {
	Keyboard       [][]KeyboardButton `json:"keyboard"`
	ResizeKeyboard bool               `json:"resize_keyboard"`
}

// Row builds one keyboard row from button labels.
func Row(labels ...string) []KeyboardButton {
	row := make([]KeyboardButton, 0, len(labels))
	for _, label := range labels {
		row = append(row, KeyboardButton{Text: label})
	}
	return row
}
