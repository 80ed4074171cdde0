package services

import (
	"strings"
	"time"
	"unicode"

	"github.com/librarydrive/donation-desk/models"
)

// PublicDonation is a donation as shown to everyone: no contact details and
// the name shaped by the donor's visibility choice.
type PublicDonation struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Message     string    `json:"message"`
	Mode        string    `json:"mode"`
	Bundles     *int      `json:"bundles,omitempty"`
	Total       float64   `json:"total"`
	CreatedAt   time.Time `json:"createdAt"`
}

func PublicView(d models.Donation) PublicDonation {
	return PublicDonation{
		ID:          d.ID,
		DisplayName: DisplayName(d.Name, d.Visibility),
		Message:     d.Message,
		Mode:        d.Mode,
		Bundles:     d.Bundles,
		Total:       d.Total,
		CreatedAt:   d.CreatedAt,
	}
}

// DisplayName applies a visibility preference: "Asha Rao" is shown as is,
// as "A.R." or as "Anonymous".
func DisplayName(name, visibility string) string {
	switch visibility {
	case models.VisibilityPublic:
		if n := strings.TrimSpace(name); n != "" {
			return n
		}
	case models.VisibilityInitials:
		var b strings.Builder
		for _, part := range strings.Fields(name) {
			r := []rune(part)[0]
			b.WriteRune(unicode.ToUpper(r))
			b.WriteByte('.')
		}
		if b.Len() > 0 {
			return b.String()
		}
	}
	return "Anonymous"
}
