package repository

import "database/sql"

type Repo struct {
	db *sql.DB
}

type PlayerSettings struct {
	PlayerID     string
	SyncAdjustMS int64
}
