package domain

// DedupMark records when a webhook dedup key was last admitted. It backs the
// SQLite dedup cache, which keeps marks across restarts.
type DedupMark struct {
	Key    string `gorm:"column:dedup_key;type:varchar(512);primaryKey"`
	SeenAt int64  `gorm:"column:seen_at;not null;index"` // unix milliseconds
}

// TableName implements the GORM tabler interface.
func (DedupMark) TableName() string { return "dedup_marks" }
