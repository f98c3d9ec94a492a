package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/R3E-Network/bridge_client/internal/errors"
)

const sessionFormat = 1

type persistedSession struct {
	Format  int     `json:"format"`
	Session Session `json:"session"`
}

// MarshalSession encodes s for storage.
func MarshalSession(s Session) ([]byte, error) {
	data, err := json.Marshal(persistedSession{Format: sessionFormat, Session: s})
	if err != nil {
		return nil, fmt.Errorf("marshal session %s: %w", s.ID, err)
	}
	return data, nil
}

// UnmarshalSession decodes a session written by MarshalSession.
func UnmarshalSession(data []byte) (Session, error) {
	var p persistedSession
	if err := json.Unmarshal(data, &p); err != nil {
		return Session{}, errors.SchemaMismatch("session", err.Error())
	}
	if p.Format != sessionFormat {
		return Session{}, errors.SchemaMismatch("format", fmt.Sprintf("unsupported session format %d", p.Format))
	}
	if p.Session.ID == "" {
		return Session{}, errors.SchemaMismatch("id", "session id missing")
	}
	if p.Session.Deposits == nil {
		p.Session.Deposits = map[string]Deposit{}
	}
	return p.Session, nil
}
