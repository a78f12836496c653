// Package handlers provides the HTTP handlers of the confirmation service.
package handlers

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/uniconfirm/confirm/internal/gate"
	"github.com/uniconfirm/confirm/internal/submission"
)

// Gate decides whether a token may access the confirmation form.
type Gate interface {
	Check(ctx context.Context, raw string) gate.Decision
}

// Forms returns the confirmation form of a token that passed the gate.
type Forms interface {
	Form(token string) *submission.Form
}

// multipartMemory is the part of a multipart request kept in memory, the rest spills to temporary files.
const multipartMemory = 8 << 20

// noticeStatus is the status code of the notice page shown for a gate outcome.
func noticeStatus(o gate.Outcome) int {
	switch o {
	case gate.MissingToken:
		return http.StatusBadRequest
	case gate.ConfigurationError:
		return http.StatusServiceUnavailable
	case gate.InvalidOrExpiredToken:
		return http.StatusNotFound
	case gate.AlreadyConfirmed:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// clientInfo collects the submitting browser details of r.
func clientInfo(r *http.Request) submission.ClientInfo {
	return submission.ClientInfo{
		UserAgent: r.UserAgent(),
		Platform:  strings.Trim(r.Header.Get("Sec-CH-UA-Platform"), `"`),
		IP:        clientIP(r),
	}
}

// clientIP returns the first X-Forwarded-For hop, or the remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
