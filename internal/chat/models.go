package chat

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Session is an anonymous conversation context keyed by the client-minted
// session token.
type Session struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Session) TableName() string { return "sessions" }

// Message rows are immutable once stored.
type Message struct {
	ID        string    `gorm:"primaryKey;type:varchar(26)" json:"id"`
	SessionID string    `gorm:"type:varchar(64);not null;index:idx_messages_session_created,priority:1" json:"session_id"`
	Session   *Session  `gorm:"foreignKey:SessionID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
	Role      Role      `gorm:"type:varchar(16);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	ImageURL  *string   `gorm:"type:text" json:"image_url,omitempty"`
	CreatedAt time.Time `gorm:"not null;index:idx_messages_session_created,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "messages" }
