package domain

import "time"

// Session is an opaque bearer session owned by the session manager.
//
// A session is Active while now < ExpiresAt, Expired afterwards (still
// stored until swept) and Deleted once invalidated or cleaned up. Only
// Active sessions verify.
type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"-"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ActiveAt reports whether the session is still valid at t.
func (s Session) ActiveAt(t time.Time) bool {
	return t.Before(s.ExpiresAt)
}
