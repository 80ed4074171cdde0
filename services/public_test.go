package services

import (
	"testing"
	"time"

	"github.com/librarydrive/donation-desk/models"
)

func TestDisplayName(t *testing.T) {
	cases := []struct {
		name, visibility, want string
	}{
		{"Asha Rao", models.VisibilityPublic, "Asha Rao"},
		{"  Asha Rao ", models.VisibilityPublic, "Asha Rao"},
		{"asha rao", models.VisibilityInitials, "A.R."},
		{"Madhu", models.VisibilityInitials, "M."},
		{"Asha Rao", models.VisibilityAnonymous, "Anonymous"},
		{"", models.VisibilityPublic, "Anonymous"},
		{"   ", models.VisibilityInitials, "Anonymous"},
		{"Asha", "unknown", "Anonymous"},
	}
	for _, tc := range cases {
		if got := DisplayName(tc.name, tc.visibility); got != tc.want {
			t.Errorf("DisplayName(%q, %q) = %q, want %q", tc.name, tc.visibility, got, tc.want)
		}
	}
}

func TestPublicViewDropsContactDetails(t *testing.T) {
	bundles := 2
	d := models.Donation{
		ID: "d1", Name: "Asha Rao", Email: "asha@example.com", Phone: "98765",
		Message: "hi", Mode: models.ModeBundles, Bundles: &bundles, Total: 2002,
		Visibility: models.VisibilityAnonymous, CreatedAt: time.Now(),
	}
	v := PublicView(d)
	if v.DisplayName != "Anonymous" || v.Total != 2002 || v.Bundles == nil || *v.Bundles != 2 {
		t.Fatalf("view = %+v", v)
	}
}
