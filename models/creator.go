package models

import (
	"time"

	"fknsrs.biz/p/feedsync/internal/sqlbuilderutil"
)

var (
	CreatorTable *sqlbuilderutil.Table
)

func init() {
	CreatorTable = sqlbuilderutil.MustMakeTable(Creator{})
}

// Creator groups channels owned by one person across platforms.
type Creator struct {
	ID        int       `sql:",table:creators" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Name      string    `json:"name"`
}
