package sdk

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"rankboard/core"
)

// DirectoryView mirrors the public directory response.
type DirectoryView struct {
	Snapshot struct {
		Leaderboards   []core.Leaderboard                  `json:"leaderboards"`
		EntriesByBoard map[core.LeaderboardID][]core.Entry `json:"entries_by_board"`
		FetchedAt      time.Time                           `json:"fetched_at"`
	} `json:"snapshot"`
	Loading    bool                        `json:"loading"`
	Refreshing bool                        `json:"refreshing"`
	Medals     map[core.EntryID]core.Medal `json:"medals,omitempty"`
}

// SessionInfo describes the auth routes' response.
type SessionInfo struct {
	Token string `json:"token,omitempty"`
	State string `json:"state"`
	Email string `json:"email,omitempty"`
}

// Notice is a transient confirmation or error from the console.
type Notice struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// ConsoleState mirrors the admin console state response.
type ConsoleState struct {
	Leaderboards []core.Leaderboard `json:"leaderboards"`
	Selected     core.LeaderboardID `json:"selected,omitempty"`
	Entries      []core.Entry       `json:"entries"`
	Dialog       string             `json:"dialog"`
	Submitting   bool               `json:"submitting"`
	Notice       *Notice            `json:"notice,omitempty"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string                 `json:"status"`
	Checks map[string]interface{} `json:"checks"`
}

// APIError is a structured error response from the server.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s (status %d)", e.Code, e.Message, e.StatusCode)
}

// decodeJSON turns any non-2xx response into an APIError. Gate
// redirects (303 with a JSON body) land here too.
func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: "error"}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}
