package model

// Session represents an active client connection (in-memory only).
// A session starts anonymous; REGISTER or IDENTIFY binds a nick.
type Session struct {
	ID         uint32
	Nick       string
	Identified bool
	RemoteAddr string
}

// Prefix returns the sender prefix used in broadcast lines: "!<nick>" once
// the session is identified, ":?" for anonymous sessions.
func (s *Session) Prefix() string {
	if s.Identified && s.Nick != "" {
		return "!" + s.Nick
	}
	return ":?"
}
