package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/ledgersync/expsync/internal/schema"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var dateParser = newDateParser()

func newDateParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// parseNaturalDate accepts an ISO date or an English expression such as
// "yesterday" or "last friday", resolved against base.
func parseNaturalDate(text string, base time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return base.UTC(), nil
	}
	if t, err := schema.ParseDate(text); err == nil {
		return t, nil
	}

	r, err := dateParser.Parse(text, base)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q (try 2024-03-01, today or yesterday)", text)
	}
	return r.Time.UTC(), nil
}
