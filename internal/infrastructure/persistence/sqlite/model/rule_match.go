package model

type RuleMatch struct {
	RuleMatchID uint64 `gorm:"column:rule_match_id;primaryKey;autoIncrement"`

	EventID     string `gorm:"column:event_id;type:text;not null;uniqueIndex:ux_rule_matches_identity,priority:1;index"`
	RuleID      string `gorm:"column:rule_id;type:text;not null;uniqueIndex:ux_rule_matches_identity,priority:2"`
	RuleVersion int    `gorm:"column:rule_version;not null;uniqueIndex:ux_rule_matches_identity,priority:3"`

	RuleName     *string  `gorm:"column:rule_name;type:text"`
	Matched      bool     `gorm:"column:matched;not null;default:1"`
	Contributed  bool     `gorm:"column:contributed;not null;default:0"`
	Score        *float64 `gorm:"column:score"`
	Priority     *int     `gorm:"column:priority"`
	MatchReason  *string  `gorm:"column:match_reason;type:text"`
	EvidenceJSON string   `gorm:"column:evidence_json;type:text;not null;default:''"`

	Event Transaction `gorm:"foreignKey:EventID;references:ID;constraint:OnDelete:CASCADE"`
}

func (RuleMatch) TableName() string {
	return "rule_matches"
}
