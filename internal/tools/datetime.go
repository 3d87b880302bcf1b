// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package tools

import (
	"context"
	"fmt"
	"time"
)

// DateTime reports the current wall-clock time in a requested timezone.
type DateTime struct {
	// now is replaceable in tests.
	now func() time.Time
}

// NewDateTime creates the datetime tool.
func NewDateTime() *DateTime {
	return &DateTime{now: time.Now}
}

func (d *DateTime) Name() string { return "get_current_datetime" }

func (d *DateTime) Description() string {
	return "Get the current date and time. Use this when the user asks about the " +
		"current time, date, day of the week, or any time-related question."
}

func (d *DateTime) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timezone_name": map[string]any{
				"type": "string",
				"description": "Timezone name (default: UTC). Common values: " +
					"'UTC', 'US/Eastern', 'US/Pacific', 'Europe/London', 'Asia/Dubai'",
			},
		},
	}
}

func (d *DateTime) Execute(_ context.Context, args map[string]any) (string, error) {
	name := stringArg(args, "timezone_name")
	if name == "" {
		name = "UTC"
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
		name = "UTC (fallback)"
	}

	now := d.now().In(loc)
	return fmt.Sprintf("Current date and time (%s): %s",
		name, now.Format("Monday, January 02, 2006 at 03:04:05 PM MST")), nil
}
