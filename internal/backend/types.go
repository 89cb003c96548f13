package backend

import (
	"encoding/json"
	"time"
)

// DocFile is one entry of GET /api/documentation/list.
type DocFile struct {
	Filename string    `json:"filename"`
	Path     string    `json:"path"`
	Title    string    `json:"title"`
	Category string    `json:"category"`
	Size     int64     `json:"size"`
	Modified EpochTime `json:"modified"`
}

// DocContent is GET /api/documentation/content/{path}.
type DocContent struct {
	Filename string    `json:"filename"`
	Path     string    `json:"path"`
	Content  string    `json:"content"`
	Size     int64     `json:"size"`
	Modified EpochTime `json:"modified"`
}

// Token is the login response.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	// ExpiresIn is seconds until the access token expires.
	ExpiresIn int `json:"expires_in"`
}

type Role struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// User is GET /api/v1/auth/me.
type User struct {
	ID                 int    `json:"id"`
	Username           string `json:"username"`
	Email              string `json:"email"`
	FullName           string `json:"full_name,omitempty"`
	IsActive           bool   `json:"is_active"`
	IsSuperuser        bool   `json:"is_superuser"`
	MustChangePassword bool   `json:"must_change_password"`
	Roles              []Role `json:"roles"`
}

// DisplayName prefers the full name.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

func (u *User) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// EpochTime decodes the backend's float unix seconds (file mtimes).
type EpochTime struct{ time.Time }

func (t *EpochTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return err
	}
	whole := int64(secs)
	t.Time = time.Unix(whole, int64((secs-float64(whole))*1e9)).UTC()
	return nil
}

func (t EpochTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(float64(t.UnixNano()) / 1e9)
}
