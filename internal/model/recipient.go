package model

// Recipient is a row in the shared recipient pool. Identity for
// deduplication purposes is the lowercased email, not the row id.
type Recipient struct {
	ID         int    `db:"id" json:"id"`
	Email      string `db:"email" json:"email"`
	Name       string `db:"name" json:"name"`
	Company    string `db:"company" json:"company"`
	CampaignID *int   `db:"campaign_id" json:"campaign_id,omitempty"`
}
