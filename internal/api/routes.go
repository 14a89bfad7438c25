package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cooldog631-ai/aim-bot/internal/report"
	"github.com/cooldog631-ai/aim-bot/internal/store"
)

// queryDate is the date format accepted in query strings.
const queryDate = "2006-01-02"

const maxLimit = 500

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/healthz", handleHealth())
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	api.GET("/reports", handleReports(opts))
	api.GET("/reminders/pending", handlePending(opts))
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

type reportJSON struct {
	ID          uint              `json:"id"`
	Platform    string            `json:"platform"`
	UserID      string            `json:"user_id"`
	ReportDate  string            `json:"report_date"`
	Fields      map[string]string `json:"fields"`
	Transcript  string            `json:"transcript,omitempty"`
	ConfirmedAt time.Time         `json:"confirmed_at"`
}

func toJSON(r report.Record) reportJSON {
	return reportJSON{
		ID:          r.ID,
		Platform:    r.Platform,
		UserID:      r.UserID,
		ReportDate:  r.ReportDate.Format(queryDate),
		Fields:      r.Fields,
		Transcript:  r.Transcript,
		ConfirmedAt: r.ConfirmedAt,
	}
}

// handleReports serves GET /api/reports?platform=&user_id=&from=&to=&limit=.
func handleReports(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := store.ReportFilter{
			Platform: c.Query("platform"),
			UserID:   c.Query("user_id"),
			Limit:    100,
		}
		var err error
		if f.From, err = parseDate(c.Query("from")); err != nil {
			badRequest(c, "from")
			return
		}
		if f.To, err = parseDate(c.Query("to")); err != nil {
			badRequest(c, "to")
			return
		}
		if s := c.Query("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			f.Limit = min(n, maxLimit)
		}

		records, err := opts.Store.Reports(c.Request.Context(), f)
		if err != nil {
			opts.Log.Error("api: query reports failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		out := make([]reportJSON, 0, len(records))
		for _, r := range records {
			out = append(out, toJSON(r))
		}
		c.JSON(http.StatusOK, gin.H{"reports": out, "count": len(out)})
	}
}

// handlePending serves GET /api/reminders/pending?date=: employees who have
// not reported on that day (default today).
func handlePending(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		day, err := parseDate(c.Query("date"))
		if err != nil {
			badRequest(c, "date")
			return
		}
		if day.IsZero() {
			day = time.Now()
		}
		employees, err := opts.Store.EmployeesWithoutReport(c.Request.Context(), day)
		if err != nil {
			opts.Log.Error("api: query pending employees failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		out := make([]gin.H, 0, len(employees))
		for _, e := range employees {
			out = append(out, gin.H{
				"platform":  e.Platform,
				"user_id":   e.UserID,
				"full_name": e.FullName,
			})
		}
		c.JSON(http.StatusOK, gin.H{"date": day.Format(queryDate), "employees": out})
	}
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(queryDate, s, time.UTC)
}

func badRequest(c *gin.Context, param string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": param + ": expected YYYY-MM-DD"})
}
