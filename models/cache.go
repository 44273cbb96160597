package models

import "time"

type CacheEntry struct {
	ID       string    `db:"id"`
	Response string    `db:"response"`
	Expires  time.Time `db:"expires"`
}

func (c *CacheEntry) IsExpired(now time.Time) bool {
	return !c.Expires.After(now)
}
