package api

// Tokens is the access/refresh pair issued on login.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// User is the profile returned by login and /auth/getmydetails/.
type User struct {
	ID           any    `json:"id,omitempty"`
	FullName     string `json:"full_name"`
	Email        string `json:"email"`
	ProfileImage string `json:"profile_image,omitempty"`
	IsVerified   bool   `json:"is_verified"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type SignupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	FullName string `json:"full_name" validate:"required"`
}

// AuthResponse answers login and signup. Signup may carry only Message.
type AuthResponse struct {
	Access  string `json:"access,omitempty"`
	Refresh string `json:"refresh,omitempty"`
	User    *User  `json:"user,omitempty"`
	Message string `json:"message,omitempty"`
}

// Tokens returns the pair carried by the response. Both halves are required.
func (r AuthResponse) Tokens() (Tokens, bool) {
	if r.Access == "" || r.Refresh == "" {
		return Tokens{}, false
	}
	return Tokens{Access: r.Access, Refresh: r.Refresh}, true
}

// BotStatus is the remote view of the bot for one meeting.
type BotStatus struct {
	BotStatus string `json:"bot_status"`
	StartTime string `json:"start_time,omitempty"`
}

type StartBotRequest struct {
	MeetingURL        string   `json:"meeting_url"`
	ParticipantEmails []string `json:"participant_emails"`
	Platform          string   `json:"platform"`
}

type StartBotResponse struct {
	Bot struct {
		ID        any    `json:"id,omitempty"`
		StartTime string `json:"start_time,omitempty"`
	} `json:"bot"`
	Message string `json:"message,omitempty"`
}

type meetingRequest struct {
	MeetingURL string `json:"meeting_url"`
}
