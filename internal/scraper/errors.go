package scraper

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrHostUnresolved means DNS could not resolve the site. It is never retried.
	ErrHostUnresolved = errors.New("domain could not be resolved")
	// ErrTimeout means an attempt exceeded the overall timeout. It is never retried.
	ErrTimeout = errors.New("scraping timed out")
	// ErrInsufficientContent means the rendered page had too little visible text.
	ErrInsufficientContent = errors.New("insufficient content scraped, the page may not have loaded properly")
)

// HTTPStatusError reports a non-2xx document response.
type HTTPStatusError struct {
	Status int
	URL    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP error! Status: %d for %s. Could not reach the website (Error Code: %d). Please check the URL.", e.Status, e.URL, e.Status)
}

func isUnresolved(err error) bool {
	if err == nil {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "ERR_NAME_NOT_RESOLVED") || strings.Contains(msg, "no such host")
}
