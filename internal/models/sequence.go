package models

// SequenceCounter backs the document number allocator, one row per
// (type, date). CurrentCounter is monotonically non-decreasing for a given
// key and a value is never handed out twice.
type SequenceCounter struct {
	SequenceType   string `gorm:"type:varchar(50);primaryKey" json:"sequenceType"`
	SequenceDate   string `gorm:"type:varchar(10);primaryKey" json:"sequenceDate"`
	CurrentCounter int    `gorm:"not null;default:0" json:"currentCounter"`
}

// TableName returns the table name for SequenceCounter
func (SequenceCounter) TableName() string {
	return "sequence_counters"
}
