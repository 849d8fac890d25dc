package model

// Review is the mutable workflow record, exactly one per stored event. The
// ingestion core only ever creates it; all later mutation belongs to the
// workflow API.
type Review struct {
	ID      string `gorm:"column:id;type:text;primaryKey"`
	EventID string `gorm:"column:event_id;type:text;not null;uniqueIndex"`

	Status   string `gorm:"column:status;type:text;not null"`
	Priority int    `gorm:"column:priority;not null"`

	AssignedAnalystID *string `gorm:"column:assigned_analyst_id;type:text"`
	CaseID            *string `gorm:"column:case_id;type:text"`
	ResolutionCode    *string `gorm:"column:resolution_code;type:text"`
	ResolutionNotes   *string `gorm:"column:resolution_notes;type:text"`

	CreatedAt string `gorm:"column:created_at;type:text;not null"`
	UpdatedAt string `gorm:"column:updated_at;type:text;not null"`

	Event Transaction `gorm:"foreignKey:EventID;references:ID;constraint:OnDelete:CASCADE"`
}

func (Review) TableName() string {
	return "reviews"
}
