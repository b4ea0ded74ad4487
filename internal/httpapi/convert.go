package httpapi

import (
	"net/http"
	"time"

	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/service"
	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/types"
)

// ── Access ───────────────────────────────────────────────────────────────────

func denialResponse(d service.Decision) types.VerifyResponse {
	return types.VerifyResponse{
		Success: false,
		Message: d.Message(),
		Reason:  string(d.Reason),
	}
}

func grantResponse(d service.Decision, g service.Grant) types.VerifyResponse {
	return types.VerifyResponse{
		Success:        true,
		Message:        d.Message(),
		Reason:         string(d.Reason),
		Token:          g.Token,
		TokenExpiresAt: g.ExpiresAt.UnixMilli(),
	}
}

// ── Announcements ────────────────────────────────────────────────────────────

func announcementView(a service.Announcement) types.Announcement {
	return types.Announcement{
		ID:        a.ID,
		Title:     a.Title,
		Content:   a.Content,
		Priority:  string(a.Priority),
		Timestamp: a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func listResponse(list []service.Announcement) types.ListResponse {
	out := types.ListResponse{Announcements: make([]types.Announcement, 0, len(list))}
	for _, a := range list {
		out.Announcements = append(out.Announcements, announcementView(a))
	}
	return out
}

// ── Errors ───────────────────────────────────────────────────────────────────

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeBody(w, r, status, types.ErrorResponse{Success: false, Error: msg, Code: code})
}
