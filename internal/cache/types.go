package cache

import (
	"time"

	"github.com/rcabral/switchyard/internal/campaign"
)

// CampaignSnapshot is the unit of propagation between the control plane and
// the routers. Rule values travel in their raw JSON form; consumers compile
// them after deserialization.
type CampaignSnapshot struct {
	Campaign *campaign.Campaign `json:"campaign"`

	// Version increases on every publication, letting routers discard
	// out-of-order snapshots.
	Version int64 `json:"version"`

	PublishedAt time.Time `json:"published_at"`
}
