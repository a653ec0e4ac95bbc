package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// User is a MoodMate account as returned by the backend.
// Fields the client does not model are kept in Extra so the cached copy
// round-trips the server record unchanged.
type User struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	AvatarURL string     `json:"avatar_url,omitempty"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// userFields mirrors User without its JSON methods.
type userFields User

var knownUserKeys = []string{"id", "name", "email", "avatar_url", "is_active", "created_at", "last_login"}

// UnmarshalJSON decodes the known fields and stashes the rest in Extra.
func (u *User) UnmarshalJSON(data []byte) error {
	var f userFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range knownUserKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		f.Extra = raw
	} else {
		f.Extra = nil
	}
	*u = User(f)
	return nil
}

// MarshalJSON encodes the known fields plus everything in Extra.
// Known fields win over Extra keys with the same name.
func (u User) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(userFields(u))
	if err != nil {
		return nil, err
	}
	if len(u.Extra) == 0 {
		return known, nil
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(known, &out); err != nil {
		return nil, err
	}
	for k, v := range u.Extra {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return json.Marshal(out)
}

// Merge returns a copy of u with updates applied on top, the same way a
// JSON object spread would: every key in updates replaces the field of the
// same name, unknown keys land in Extra. A value that does not fit the
// type of a known field is an error.
func (u User) Merge(updates map[string]any) (*User, error) {
	base, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("domain.User.Merge: encode user: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, fmt.Errorf("domain.User.Merge: decode user: %w", err)
	}
	for k, v := range updates {
		fields[k] = v
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("domain.User.Merge: encode merged: %w", err)
	}
	var out User
	if err := json.Unmarshal(merged, &out); err != nil {
		return nil, fmt.Errorf("domain.User.Merge: decode merged: %w", err)
	}
	return &out, nil
}

// DisplayName returns the name, falling back to the email local part.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	for i := 0; i < len(u.Email); i++ {
		if u.Email[i] == '@' {
			return u.Email[:i]
		}
	}
	return u.Email
}
