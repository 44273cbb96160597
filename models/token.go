package models

import "time"

const (
	TokenTypeAccess  = "ACCESS_UUID"
	TokenTypeRefresh = "REFRESH_UUID"
)

type TokenDetails struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	AccessUuid   string `json:"-"`
	RefreshUuid  string `json:"-"`
	AtExpires    int64  `json:"at_expires"`
	RtExpires    int64  `json:"rt_expires"`
}

type AccessDetails struct {
	AccessUuid string
	UserId     int64
}

type Token struct {
	ID        int64     `db:"id"`
	Type      string    `db:"type"`
	Uuid      string    `db:"uuid"`
	UserID    int64     `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
}
