package cron

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrovax/ironclaw/pkg/bus"
)

func validDef(id string) *Definition {
	return &Definition{
		ID:      id,
		AgentID: "default",
		Expr:    "0 9 * * *",
		Message: "morning briefing",
		Enabled: true,
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Definition)
		wantErr bool
	}{
		{"daily passes", func(d *Definition) {}, false},
		{"hourly passes", func(d *Definition) { d.Expr = "0 * * * *" }, false},
		{"five minutes is the floor", func(d *Definition) { d.Expr = "*/5 * * * *" }, false},
		{"every minute rejected", func(d *Definition) { d.Expr = "* * * * *" }, true},
		{"garbage expression rejected", func(d *Definition) { d.Expr = "not a cron" }, true},
		{"missing id", func(d *Definition) { d.ID = "" }, true},
		{"missing agent", func(d *Definition) { d.AgentID = "" }, true},
		{"missing message", func(d *Definition) { d.Message = "" }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := validDef("d1")
			tc.mutate(def)
			err := def.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSessionIDContinuity(t *testing.T) {
	now := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	later := now.Add(24 * time.Hour)

	cont := validDef("daily")
	cont.Continuity = true
	assert.Equal(t, "cron:daily", cont.SessionID(now))
	assert.Equal(t, cont.SessionID(now), cont.SessionID(later))

	fresh := validDef("daily")
	assert.NotEqual(t, fresh.SessionID(now), fresh.SessionID(later))
	assert.Contains(t, fresh.SessionID(now), "cron:daily:")
}

func TestStorePutLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put(validDef("d1")))
	require.NoError(t, store.Put(validDef("d2")))

	reopened, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, reopened.Load())

	defs := reopened.All()
	require.Len(t, defs, 2)
	assert.Equal(t, "d1", defs[0].ID)
	assert.Equal(t, "d2", defs[1].ID)
	assert.Equal(t, "morning briefing", defs[0].Message)
}

func TestStorePutRejectsInvalid(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	bad := validDef("d1")
	bad.Expr = "* * * * *"
	assert.Error(t, store.Put(bad))
	assert.Empty(t, store.All())
}

func TestLoadSkipsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put(validDef("good")))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.json"), []byte("{oops"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "subminute.json"),
		[]byte(`{"id":"subminute","agent_id":"a","expr":"* * * * *","message":"m","enabled":true}`), 0o644))

	require.NoError(t, store.Load())
	defs := store.All()
	require.Len(t, defs, 1)
	assert.Equal(t, "good", defs[0].ID)
}

func TestPollFiresDueScheduleOnce(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	def := validDef("hourly")
	def.Expr = "0 * * * *"
	def.Channel = "telegram"
	def.ChatID = "42"
	require.NoError(t, store.Put(def))

	queue := bus.NewQueue()
	svc := NewService(store, queue, time.Minute)

	// 30 seconds past the hour: the slot is inside the tick window.
	now := time.Date(2026, 8, 25, 12, 0, 30, 0, time.UTC)
	svc.poll(now)

	require.Equal(t, 1, queue.Len())
	job, _ := queue.Dequeue(t.Context())
	assert.Equal(t, "morning briefing", job.Message)
	assert.Equal(t, bus.ModeUnattended, job.Mode)
	assert.Contains(t, job.SessionID, "cron:hourly:")
	require.NotNil(t, job.Delivery)
	assert.Equal(t, "telegram", job.Delivery.Channel)
	assert.Equal(t, "42", job.Delivery.ChatID)

	// The same slot never double-fires.
	svc.poll(now.Add(20 * time.Second))
	assert.Equal(t, 0, queue.Len())
}

func TestPollSkipsDisabledAndNotDue(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	disabled := validDef("off")
	disabled.Expr = "0 * * * *"
	disabled.Enabled = false
	require.NoError(t, store.Put(disabled))

	notDue := validDef("later")
	notDue.Expr = "0 * * * *"
	require.NoError(t, store.Put(notDue))

	queue := bus.NewQueue()
	svc := NewService(store, queue, time.Minute)

	// Mid-hour: the last slot is long outside the tick window.
	svc.poll(time.Date(2026, 8, 25, 12, 30, 30, 0, time.UTC))
	assert.Equal(t, 0, queue.Len())
}

func TestLastRunSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	def := validDef("hourly")
	def.Expr = "0 * * * *"
	require.NoError(t, store.Put(def))

	queue := bus.NewQueue()
	svc := NewService(store, queue, time.Minute)
	now := time.Date(2026, 8, 25, 12, 0, 30, 0, time.UTC)
	svc.poll(now)
	require.Equal(t, 1, queue.Len())

	// A restart within the same slot must not re-fire.
	reopened, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, reopened.Load())
	svc2 := NewService(reopened, bus.NewQueue(), time.Minute)
	svc2.poll(now.Add(20 * time.Second))
	assert.Equal(t, 0, svc2.queue.Len())
}
