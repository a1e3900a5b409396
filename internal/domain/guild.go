// Package domain contains entity without logic, just meta-data
package domain

type (
	GuildID   string
	ChannelID string
	UserID    string
	LinkID    string
)

// Credentials holds the voice credential fragments delivered by the client.
// They arrive independently: token and endpoint with a voice server update,
// session id with a voice state update.
type Credentials struct {
	Token     string
	Endpoint  string
	SessionID string
	UserID    UserID
}

// Complete reports whether a connect attempt can be made.
func (c Credentials) Complete() bool {
	return c.Token != "" && c.Endpoint != "" && c.SessionID != "" && c.UserID != ""
}

// Missing lists the fragments that are still absent.
func (c Credentials) Missing() []string {
	var out []string
	if c.Token == "" {
		out = append(out, "token")
	}
	if c.Endpoint == "" {
		out = append(out, "endpoint")
	}
	if c.SessionID == "" {
		out = append(out, "sessionId")
	}
	if c.UserID == "" {
		out = append(out, "userId")
	}
	return out
}
