package function

import (
	"context"
	"fmt"
	"time"

	"moebot/internal/domain"
)

// CurrentTime reports the current date and time, optionally in a named zone.
type CurrentTime struct {
	now func() time.Time
}

func NewCurrentTime(now func() time.Time) *CurrentTime {
	if now == nil {
		now = time.Now
	}
	return &CurrentTime{now: now}
}

func (c *CurrentTime) Definition() domain.FunctionDefinition {
	return domain.FunctionDefinition{
		Name:        "current_time",
		Description: "get the current date and time",
		Parameters: []domain.Parameter{
			{Name: "timezone", Type: domain.TypeString, Required: false, Description: "IANA time zone such as Europe/Berlin (default UTC)"},
		},
	}
}

func (c *CurrentTime) Execute(ctx context.Context, fctx Context, args map[string]any) (domain.FunctionResult, error) {
	zone := ArgString(args, "timezone")
	if zone == "" {
		zone = "UTC"
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return domain.FunctionResult{Success: false, Message: fmt.Sprintf("unknown timezone %s", zone)}, nil
	}
	now := c.now().In(loc)
	return domain.FunctionResult{
		Success: true,
		Message: now.Format("Monday, 2006-01-02 15:04 MST"),
		Data:    map[string]any{"unix": now.Unix(), "timezone": zone},
	}, nil
}
