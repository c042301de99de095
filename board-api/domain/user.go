package domain

import (
	"errors"

	"github.com/bytedance/sonic"
)

// User is owned by the identity provider; the board only reads it.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// UserRef refers to a user either by bare id or as a populated record.
type UserRef struct {
	id   string
	user *User
}

func RefID(id string) UserRef { return UserRef{id: id} }

func RefUser(u User) UserRef { return UserRef{id: u.ID, user: &u} }

// ID returns the referenced id for either variant.
func (r UserRef) ID() string { return r.id }

// User returns the populated record when present.
func (r UserRef) User() (User, bool) {
	if r.user == nil {
		return User{}, false
	}
	return *r.user, true
}

func (r UserRef) MarshalJSON() ([]byte, error) {
	if r.user != nil {
		return sonic.Marshal(r.user)
	}
	return sonic.Marshal(r.id)
}

func (r *UserRef) UnmarshalJSON(data []byte) error {
	var id string
	if err := sonic.Unmarshal(data, &id); err == nil {
		*r = RefID(id)
		return nil
	}
	var u User
	if err := sonic.Unmarshal(data, &u); err != nil {
		return err
	}
	if u.ID == "" {
		return errors.New("user reference without id")
	}
	*r = RefUser(u)
	return nil
}
