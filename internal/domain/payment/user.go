package payment

import "time"

// User is a chat user known to the bot
type User struct {
	ID          int64
	TelegramID  int64
	Username    string
	FirstName   string
	HasFreeUsed bool
	CreatedAt   time.Time
}

// UserStats summarises user signups for administrators
type UserStats struct {
	NewToday     int64
	NewYesterday int64
	Total        int64
}
