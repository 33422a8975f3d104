package model

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/gorhill/cronexpr"
)

// ValidateExportRequest checks that the request carries a known format and a
// source matching the format family.
func ValidateExportRequest(req *ExportRequest) error {
	f := req.Options.Format
	if !f.Known() {
		return fmt.Errorf("unsupported format: %q", f)
	}
	if req.Title == "" {
		return fmt.Errorf("title is required")
	}
	switch {
	case f.IsRaster():
		if req.Element == nil {
			return fmt.Errorf("format %s requires an element to capture", f)
		}
		if req.Element.URL == "" || req.Element.Selector == "" {
			return fmt.Errorf("element url and selector are required")
		}
	case f.IsData():
		if req.Data == nil {
			return fmt.Errorf("format %s requires a data set", f)
		}
	}
	return nil
}

// ValidateBulkRequest checks a bulk request before any item runs.
func ValidateBulkRequest(req *BulkExportRequest) error {
	if len(req.Charts) == 0 {
		return fmt.Errorf("at least one chart is required")
	}
	if !req.Format.Known() {
		return fmt.Errorf("unsupported format: %q", req.Format)
	}
	if req.CombinePDF && req.Format != FormatPDF {
		return fmt.Errorf("combine_pdf requires format pdf, got %s", req.Format)
	}
	return nil
}

// ValidateCronExpression validates a cron expression string.
func ValidateCronExpression(expr string) error {
	if expr == "" {
		return fmt.Errorf("cron expression is empty")
	}
	if _, err := cronexpr.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// ValidateSchedule checks required schedule fields.
func ValidateSchedule(s *Schedule) error {
	if s.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if len(s.Charts) == 0 {
		return fmt.Errorf("schedule requires at least one chart")
	}
	switch s.IntervalType {
	case "daily", "weekly", "monthly":
	case "custom":
		if err := ValidateCronExpression(s.CronExpr); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown interval type: %q", s.IntervalType)
	}
	if len(s.Recipients.To) == 0 {
		return fmt.Errorf("schedule requires at least one recipient")
	}
	return ValidateRecipients(s.Recipients)
}

// ValidateRecipients checks that all recipient addresses parse.
func ValidateRecipients(r Recipients) error {
	for _, group := range [][]string{r.To, r.CC, r.BCC} {
		for _, addr := range group {
			if _, err := mail.ParseAddress(addr); err != nil {
				return fmt.Errorf("invalid recipient address %q: %w", addr, err)
			}
		}
	}
	return nil
}

// ValidateRecipientDomains checks recipient addresses against an allowlist
// of domains. Wildcard entries like "*.example.org" match subdomains. An
// empty allowlist permits everything.
func ValidateRecipientDomains(r Recipients, allowed []string) error {
	if len(allowed) == 0 {
		return nil
	}
	for _, group := range [][]string{r.To, r.CC, r.BCC} {
		for _, addr := range group {
			parsed, err := mail.ParseAddress(addr)
			if err != nil {
				return fmt.Errorf("invalid recipient address %q: %w", addr, err)
			}
			at := strings.LastIndex(parsed.Address, "@")
			domain := strings.ToLower(parsed.Address[at+1:])
			if !domainAllowed(domain, allowed) {
				return fmt.Errorf("recipient domain %q is not allowed", domain)
			}
		}
	}
	return nil
}

func domainAllowed(domain string, allowed []string) bool {
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "*.") {
			suffix := a[1:] // ".example.org"
			if strings.HasSuffix(domain, suffix) || domain == a[2:] {
				return true
			}
			continue
		}
		if domain == a {
			return true
		}
	}
	return false
}
