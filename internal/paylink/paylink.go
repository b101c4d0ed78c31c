// Package paylink builds externally-presented payment options for
// finalized splits. The engine only hands over (participant, display name,
// amount owed); everything else about payments lives outside this service.
package paylink

import (
	"fmt"
	"net/url"
	"strings"
)

// Link is one payment option row in a finalize response.
type Link struct {
	ParticipantID string  `json:"participantId"`
	DisplayName   string  `json:"displayName"`
	AmountOwed    float64 `json:"amountOwed"`
	URL           string  `json:"url"`
}

// Builder produces a payment URL for one participant's amount owed.
type Builder interface {
	Build(participantID, displayName string, amountOwed float64) string
}

// TemplateBuilder renders links against a configured base URL. An empty
// base yields empty links, which callers treat as "no payment provider".
type TemplateBuilder struct {
	BaseURL string
}

// Build implements Builder.
func (b TemplateBuilder) Build(participantID, displayName string, amountOwed float64) string {
	base := strings.TrimRight(strings.TrimSpace(b.BaseURL), "/")
	if base == "" {
		return ""
	}
	q := url.Values{}
	q.Set("to", participantID)
	q.Set("name", displayName)
	q.Set("amount", fmt.Sprintf("%.2f", amountOwed))
	return base + "/pay?" + q.Encode()
}
