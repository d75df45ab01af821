package handlers

import (
	"net/http"
	"time"

	"mediagen/internal/middleware"
)

type grantView struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Amount    int        `json:"amount"`
	Consumed  int        `json:"consumed"`
	Balance   int        `json:"balance"`
	IssuedAt  time.Time  `json:"issuedAt"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// QuotaDailyCheck issues today's free grant for the caller if missing.
func (a *App) QuotaDailyCheck(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	res, err := a.Daily.Check(r.Context(), userID, middleware.CountryFromContext(r.Context()))
	if err != nil {
		a.log(r).Error().Err(err).Str("user_id", userID).Msg("quota: daily check failed")
		a.error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	msg := "Daily quota already issued"
	if res.Created {
		msg = "Daily quota issued"
	}
	a.json(w, http.StatusOK, map[string]any{
		"success": true,
		"issued":  res.Created,
		"amount":  res.Grant.Amount,
		"country": res.Country,
		"message": msg,
	})
}

// QuotaList returns the caller's active grants and their total balance.
func (a *App) QuotaList(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	grants, err := a.Daily.Active(r.Context(), userID)
	if err != nil {
		a.log(r).Error().Err(err).Str("user_id", userID).Msg("quota: list failed")
		a.error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	items := make([]grantView, 0, len(grants))
	total := 0
	for _, g := range grants {
		items = append(items, grantView{
			ID:        g.ID,
			Type:      string(g.Type),
			Amount:    g.Amount,
			Consumed:  g.Consumed,
			Balance:   g.Balance(),
			IssuedAt:  g.IssuedAt,
			ExpiresAt: g.ExpiresAt,
		})
		total += g.Balance()
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "items": items, "balance": total})
}
