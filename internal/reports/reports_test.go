package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plainDoer struct{}

func (plainDoer) Do(req *http.Request) (*http.Response, error) {
	return http.DefaultClient.Do(req)
}

func TestClient_Insert(t *testing.T) {
	t.Run("posts the report", func(t *testing.T) {
		var got Report
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/rest/v1/reports", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusCreated)
		}))
		t.Cleanup(server.Close)

		client := NewClient(plainDoer{}, server.URL, 2*time.Second)

		report := Report{
			UserID:   uuid.New(),
			Team:     "platform",
			Date:     "2026-08-28",
			Tasks:    "wired the export pipeline",
			Status:   StatusOnTrack,
			Blockers: "waiting on schema review",
		}
		require.NoError(t, client.Insert(context.Background(), report))
		assert.Equal(t, report.Tasks, got.Tasks)
		assert.Equal(t, report.Status, got.Status)
		assert.False(t, client.Loading(), "loading flag must clear after the call")
	})

	t.Run("provider rejection surfaces and clears loading", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "row level policy violation", http.StatusForbidden)
		}))
		t.Cleanup(server.Close)

		client := NewClient(plainDoer{}, server.URL, 2*time.Second)

		err := client.Insert(context.Background(), Report{UserID: uuid.New(), Date: "2026-08-28"})
		assert.Error(t, err)
		assert.False(t, client.Loading())
	})
}

func TestClient_List(t *testing.T) {
	t.Run("filters by team and date range", func(t *testing.T) {
		userID := uuid.New()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "eq.platform", q.Get("team"))
			assert.ElementsMatch(t, []string{"gte.2026-08-01", "lte.2026-08-28"}, q["date"])

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode([]Report{ //nolint:errcheck
				{UserID: userID, Team: "platform", Date: "2026-08-28", Status: StatusAtRisk},
			})
		}))
		t.Cleanup(server.Close)

		client := NewClient(plainDoer{}, server.URL, 2*time.Second)

		rows, err := client.List(context.Background(), Filter{Team: "platform", From: "2026-08-01", To: "2026-08-28"})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, StatusAtRisk, rows[0].Status)
		assert.False(t, client.Loading())
	})

	t.Run("hard timeout resolves the call", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		t.Cleanup(server.Close)

		client := NewClient(plainDoer{}, server.URL, 100*time.Millisecond)

		start := time.Now()
		_, err := client.List(context.Background(), Filter{})
		assert.Error(t, err)
		assert.Less(t, time.Since(start), time.Second, "timeout must bound the wait")
		assert.False(t, client.Loading())
	})
}

func TestWriteCSV(t *testing.T) {
	userID := uuid.New()
	rows := []Report{
		{UserID: userID, Team: "platform", Date: "2026-08-28", Status: StatusBlocked, Tasks: "a, b", Blockers: "db migration"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "date,user_id,team,status,tasks,blockers,risks,dependencies", lines[0])
	assert.Contains(t, lines[1], "2026-08-28")
	assert.Contains(t, lines[1], userID.String())
	assert.Contains(t, lines[1], `"a, b"`)
}
