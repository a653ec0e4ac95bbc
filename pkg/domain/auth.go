package domain

// Credentials is the opaque bearer token pair issued on login or register.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// AuthResponse is the body returned by the login and register endpoints.
type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	User         *User  `json:"user"`
}

// Credentials returns the token pair carried by the response.
func (r AuthResponse) Credentials() Credentials {
	return Credentials{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
}

// ProfileUpdate is the payload for PUT /auth/me. Nil fields are left unchanged.
type ProfileUpdate struct {
	Name      *string `json:"name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// Fields returns the non-nil fields keyed by their JSON names.
func (p ProfileUpdate) Fields() map[string]any {
	out := map[string]any{}
	if p.Name != nil {
		out["name"] = *p.Name
	}
	if p.AvatarURL != nil {
		out["avatar_url"] = *p.AvatarURL
	}
	return out
}

// PasswordResetTicket is returned by the forgot-password endpoint.
// ResetToken is only populated by development backends.
type PasswordResetTicket struct {
	Message    string `json:"message"`
	ResetToken string `json:"reset_token,omitempty"`
}
