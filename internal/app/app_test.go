package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"meetsync/internal/config"
	"meetsync/internal/eventbus"
	"meetsync/internal/model"
	logx "meetsync/pkg/logx"
)

const testConfig = `
base_url: https://meet.example.com
logging:
  level: warn
  console: false
storage:
  driver: memory
transport:
  driver: outbox
http:
  addr: 127.0.0.1:0
reminder:
  enabled: false
`

func TestAppServesAPI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))

	a, err := NewApp(path)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, a.Stop(ctx, StopAppStop))
	})

	base := "http://" + a.HTTPAddr().String()
	body, _ := json.Marshal(map[string]any{
		"title":            "Sync",
		"organizer":        "org@example.com",
		"duration_minutes": 30,
		"proposed_dates":   []map[string]any{{"datetime": "2030-01-07T10:00:00Z"}},
		"participants":     []map[string]any{{"name": "Ana", "email": "ana@example.com"}},
	})
	resp, err := http.Post(base+"/meetings", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var m model.Meeting
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Post(base+"/meetings/"+m.ID+"/send", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	msgs := a.Outbox().Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "ana@example.com", msgs[0].To)
	require.Contains(t, msgs[0].Body, "https://meet.example.com/RespondToMeeting?meeting="+m.ID)
}

func TestMappingDefaults(t *testing.T) {
	cfg := config.Default()

	nc, err := mapNotifierConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, 2, nc.Retry.MaxAttempts)
	require.Zero(t, nc.Retry.Base)
	require.Equal(t, 15*time.Second, nc.SendTimeout)

	ic, limit, err := mapInboxConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, ic.Interval)
	require.Equal(t, 4, ic.Retry.MaxAttempts)
	require.Equal(t, 1000, limit)

	hc, err := mapHTTPConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, ":8080", hc.Addr)

	sc, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, "memory", sc.Driver)

	src, err := buildBusy(cfg, logx.Nop())
	require.NoError(t, err)
	require.Nil(t, src)
}

func TestMappingErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Reminder.Schedule = "every:nonsense"
	_, err := mapReminderConfig(cfg)
	require.Error(t, err)

	cfg = config.Default()
	cfg.Storage = config.StorageConfig{Driver: "sqlite"}
	_, err = mapStorageConfig(cfg)
	require.Error(t, err)

	cfg = config.Default()
	cfg.Transport.Driver = "pigeon"
	_, _, err = buildTransport(cfg, logx.Nop())
	require.Error(t, err)
}

func TestEventLogSkipsPerSendNoise(t *testing.T) {
	require.NotContains(t, loggedEvents, eventbus.TypeNotifierSent)
	require.Contains(t, loggedEvents, eventbus.TypeNotifierFailed)
	require.Contains(t, loggedEvents, eventbus.TypeInboxFailed)

	bus := eventbus.New()
	events, unsub := eventbus.Filtered(bus, 8, loggedEvents...)
	defer unsub()

	eventbus.Publish(bus, eventbus.TypeNotifierSent, nil)
	eventbus.Publish(bus, eventbus.TypeNotifierFailed, nil)

	select {
	case e := <-events:
		require.Equal(t, eventbus.TypeNotifierFailed, e.Type)
	case <-time.After(time.Second):
		t.Fatal("failed notification was not delivered")
	}
}
