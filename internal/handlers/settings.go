package handlers

import (
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/thinkmate/internal/models"
	"github.com/MegaGrindStone/thinkmate/internal/settings"
)

// HandleSettings changes the theme to the "theme" form field and writes it to the settings file.
// The page is reloaded to apply it.
func (m Main) HandleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	theme, err := models.ParseTheme(r.FormValue("theme"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s := models.Settings{Theme: theme}
	if err := settings.Write(m.settingsDir, s); err != nil {
		m.logger.Error("Failed to write settings", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	m.SetSettings(s)

	w.Header().Set("HX-Refresh", "true")
	w.WriteHeader(http.StatusNoContent)
}
