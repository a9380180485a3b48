// Package telegram carries the Telegram Mini-App launch context.
//
// A Session is parsed from the WebApp initData string once per request and
// passed explicitly to whoever needs the user. Nothing here is global.
// The initData signature is not verified.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// ErrNoUser is returned when initData carries no user.
var ErrNoUser = errors.New("telegram init data has no user")

// User is the Telegram user that opened the Mini-App.
type User struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
	IsPremium    bool   `json:"is_premium,omitempty"`
}

// Session is the parsed launch context of one Mini-App session.
type Session struct {
	User       *User
	QueryID    string
	StartParam string
	AuthDate   time.Time
	Hash       string
}

// ParseInitData parses the raw initData query string.
func ParseInitData(raw string) (*Session, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("parse init data: %w", err)
	}

	s := &Session{
		QueryID:    values.Get("query_id"),
		StartParam: values.Get("start_param"),
		Hash:       values.Get("hash"),
	}

	if rawUser := values.Get("user"); rawUser != "" {
		var u User
		if err := json.Unmarshal([]byte(rawUser), &u); err != nil {
			return nil, fmt.Errorf("parse init data user: %w", err)
		}
		s.User = &u
	}

	if rawDate := values.Get("auth_date"); rawDate != "" {
		sec, err := strconv.ParseInt(rawDate, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse init data auth_date: %w", err)
		}
		s.AuthDate = time.Unix(sec, 0).UTC()
	}

	return s, nil
}

// UserID returns the session user's id.
func (s *Session) UserID() (int64, error) {
	if s == nil || s.User == nil || s.User.ID == 0 {
		return 0, ErrNoUser
	}
	return s.User.ID, nil
}

// DevSession returns a session for a fixed user id, for local development
// without a Telegram client.
func DevSession(userID int64) *Session {
	return &Session{User: &User{ID: userID, FirstName: "dev"}}
}

type sessionKey struct{}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext returns the session stored by NewContext, or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}
