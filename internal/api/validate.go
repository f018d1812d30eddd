package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"wolfroute/internal/model"
	"wolfroute/internal/webhooks"
)

func validateSubscription(req *model.SubscriptionRequest) error {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL")
	}
	if len(req.Events) == 0 {
		return fmt.Errorf("at least one event is required")
	}
	for _, e := range req.Events {
		if !isWebhookEvent(e) {
			return fmt.Errorf("unknown event %q (allowed: %s)", e, strings.Join(webhooks.Events, ","))
		}
	}
	return nil
}

func isWebhookEvent(e string) bool {
	for _, known := range webhooks.Events {
		if e == known {
			return true
		}
	}
	return false
}

func validateStatus(s string) error {
	switch model.JobStatus(s) {
	case "", model.JobPending, model.JobRunning, model.JobCompleted, model.JobFailed, model.JobCancelled:
		return nil
	}
	return fmt.Errorf("unknown status %q", s)
}

// intParam reads a non-negative integer query parameter, returning def when absent.
func intParam(q url.Values, name string, def int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
