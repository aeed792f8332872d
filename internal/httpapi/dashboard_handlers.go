package httpapi

import (
	"errors"
	"net/http"
	"time"

	"crmdesk.io/internal/auth"
	"crmdesk.io/internal/dashboard"
	"crmdesk.io/internal/obs"
)

type statsView struct {
	TotalPurchases int64  `json:"total_purchases"`
	TotalSpent     string `json:"total_spent"`
	RewardsPoints  int64  `json:"rewards_points"`
}

type activityView struct {
	ID   int64     `json:"id"`
	Text string    `json:"text"`
	Icon string    `json:"icon"`
	Time time.Time `json:"time"`
}

type insightView struct {
	ID    int64     `json:"id"`
	Title string    `json:"title"`
	Text  string    `json:"text"`
	Icon  string    `json:"icon"`
	Date  time.Time `json:"date"`
}

type notificationView struct {
	ID   int64     `json:"id"`
	Text string    `json:"text"`
	Icon string    `json:"icon"`
	Time time.Time `json:"time"`
	Read bool      `json:"read"`
}

// activeUser resolves the caller and rejects accounts that are not active.
func (a *API) activeUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, _, _ := auth.AccountIDFromContext(r.Context())
	if _, err := a.accounts.UserProfile(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return 0, false
	}
	return id, true
}

func writeDashboardError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, dashboard.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "User not found")
		return
	}
	obs.Error("dashboard read failed", map[string]any{
		"request_id": RequestIDFromContext(r.Context()),
		"path":       r.URL.Path,
		"error":      err.Error(),
	})
	writeError(w, r, http.StatusInternalServerError, "internal error")
}

func (a *API) handleUserStats(w http.ResponseWriter, r *http.Request) {
	id, ok := a.activeUser(w, r)
	if !ok {
		return
	}
	st, err := a.dash.Stats(r.Context(), id)
	if err != nil {
		writeDashboardError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsView{
		TotalPurchases: st.TotalPurchases,
		TotalSpent:     st.TotalSpent(),
		RewardsPoints:  st.RewardsPoints,
	})
}

func (a *API) handleUserActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := a.activeUser(w, r)
	if !ok {
		return
	}
	items, err := a.dash.Activity(r.Context(), id, dashboard.ActivityLimit)
	if err != nil {
		writeDashboardError(w, r, err)
		return
	}
	out := make([]activityView, 0, len(items))
	for _, it := range items {
		out = append(out, activityView{ID: it.ID, Text: it.Text, Icon: it.Icon, Time: it.Time})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleUserInsights(w http.ResponseWriter, r *http.Request) {
	id, ok := a.activeUser(w, r)
	if !ok {
		return
	}
	items, err := a.dash.Insights(r.Context(), id, dashboard.InsightLimit)
	if err != nil {
		writeDashboardError(w, r, err)
		return
	}
	out := make([]insightView, 0, len(items))
	for _, it := range items {
		out = append(out, insightView{ID: it.ID, Title: it.Title, Text: it.Text, Icon: it.Icon, Date: it.Date})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleUserNotifications(w http.ResponseWriter, r *http.Request) {
	id, ok := a.activeUser(w, r)
	if !ok {
		return
	}
	items, err := a.dash.Notifications(r.Context(), id)
	if err != nil {
		writeDashboardError(w, r, err)
		return
	}
	out := make([]notificationView, 0, len(items))
	for _, it := range items {
		out = append(out, notificationView{ID: it.ID, Text: it.Text, Icon: it.Icon, Time: it.Time, Read: it.Read})
	}
	writeJSON(w, http.StatusOK, out)
}
