package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// WriteJSON writes the report as indented JSON.
func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteCSV writes one row per board.
func (r Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"leaderboard_id", "name", "entry_count", "total_score", "top_player", "top_score"}); err != nil {
		return err
	}
	for _, b := range r.Boards {
		topName, topScore := "", ""
		if len(b.TopPlayers) > 0 {
			topName = b.TopPlayers[0].PlayerName
			topScore = strconv.FormatInt(b.TopPlayers[0].Score, 10)
		}
		row := []string{
			string(b.LeaderboardID),
			b.Name,
			strconv.Itoa(b.EntryCount),
			strconv.FormatInt(b.TotalScore, 10),
			topName,
			topScore,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Handler serves the report, as JSON by default or CSV with
// ?format=csv.
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := c.Snapshot()
		switch r.URL.Query().Get("format") {
		case "csv":
			w.Header().Set("Content-Type", "text/csv")
			if err := report.WriteCSV(w); err != nil {
				c.logger.Warn("csv export failed", "error", err)
			}
		default:
			w.Header().Set("Content-Type", "application/json")
			if err := report.WriteJSON(w); err != nil {
				c.logger.Warn("json export failed", "error", err)
			}
		}
	})
}

// String renders a short operator summary.
func (r Report) String() string {
	return fmt.Sprintf("%d boards, %d entries", r.BoardCount, r.EntryCount)
}
