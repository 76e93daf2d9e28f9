package store

import (
	"fmt"

	"github.com/lbmoreira/onyx-sync/internal/record"
)

// starterQuotes is the first-run quote set.
var starterQuotes = []string{
	"Discipline equals freedom.",
	"What gets measured gets managed.",
	"Slow is smooth, smooth is fast.",
}

// EnsureDefaults seeds the profile, settings, and quotes tables on
// first run. Safe to call on every startup; tables that already hold
// data are left alone.
func (s *Store) EnsureDefaults() error {
	profiles, err := s.List("profile")
	if err != nil {
		return err
	}

	if len(profiles) == 0 {
		if _, err := s.Upsert("profile", record.Record{"name": "Leonardo"}); err != nil {
			return fmt.Errorf("seeding profile: %w", err)
		}
	}

	settings, err := s.List("settings")
	if err != nil {
		return err
	}

	if len(settings) == 0 {
		_, err := s.Upsert("settings", record.Record{
			"meetingMode":      false,
			"greetingsEnabled": true,
			"accent":           "#D4AF37",
		})
		if err != nil {
			return fmt.Errorf("seeding settings: %w", err)
		}
	}

	quotes, err := s.List("quotes")
	if err != nil {
		return err
	}

	if len(quotes) == 0 {
		for _, q := range starterQuotes {
			if _, err := s.Upsert("quotes", record.Record{"text": q}); err != nil {
				return fmt.Errorf("seeding quotes: %w", err)
			}
		}
	}

	return nil
}
