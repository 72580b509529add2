package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	apirest "github.com/emberworks/questengine/api/rest"
	"github.com/emberworks/questengine/audit"
	"github.com/emberworks/questengine/cache"
	"github.com/emberworks/questengine/catalog"
	"github.com/emberworks/questengine/config"
	"github.com/emberworks/questengine/engine/account"
	"github.com/emberworks/questengine/engine/challenge"
	"github.com/emberworks/questengine/engine/clock"
	"github.com/emberworks/questengine/engine/locks"
	"github.com/emberworks/questengine/engine/notify"
	"github.com/emberworks/questengine/engine/progress"
	"github.com/emberworks/questengine/engine/quest"
	"github.com/emberworks/questengine/engine/reward"
	mw "github.com/emberworks/questengine/middleware"
	"github.com/emberworks/questengine/model"
	"github.com/emberworks/questengine/scheduler"
	"github.com/emberworks/questengine/testutil"
)

// TestServer wraps a real HTTP server with the whole engine wired together.
type TestServer struct {
	DB         *gorm.DB
	Cache      cache.Cache
	PubSub     cache.PubSub
	Clock      *clock.Fake
	Loader     *catalog.Loader
	Quests     *quest.Service
	Challenges *challenge.Service
	Rewards    *reward.Service
	Tracker    *progress.Tracker
	Server     *httptest.Server
	URL        string
	Sec        config.SecurityConfig
}

// NewTestServer creates a fully wired engine for integration testing,
// mirroring the dependency wiring in main.go. The given templates are
// written to a temp catalog directory and loaded through the real loader.
func NewTestServer(t *testing.T, questTpls []*catalog.QuestTemplate, chTpls []*catalog.ChallengeTemplate) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	sec := config.SecurityConfig{
		JWTSecret:      "integration-test-secret",
		JWTTTL:         72 * time.Hour,
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
	}

	questDir := filepath.Join(t.TempDir(), "quests")
	challengeDir := filepath.Join(t.TempDir(), "challenges")
	require.NoError(t, os.MkdirAll(questDir, 0o755))
	require.NoError(t, os.MkdirAll(challengeDir, 0o755))
	for _, tpl := range questTpls {
		writeTemplate(t, questDir, tpl.ID, tpl)
	}
	for _, tpl := range chTpls {
		writeTemplate(t, challengeDir, tpl.ID, tpl)
	}
	loader := catalog.NewLoader(questDir, challengeDir, logger)
	require.NoError(t, loader.Load())

	journal := audit.NewJournal(db, logger)
	t.Cleanup(journal.Stop)

	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	reg := locks.NewRegistry()
	clk := clock.NewFake(time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC))
	accountSvc := account.NewService(db, logger)
	notifier := notify.New(pubsub, logger)
	rewardSvc := reward.NewService(db, clk, accountSvc, notifier, logger)
	questSvc := quest.NewService(db, loader, reg, clk, accountSvc, rewardSvc, journal, notifier, logger)
	challengeSvc := challenge.NewService(db, loader, reg, clk, accountSvc, rewardSvc,
		journal, notifier, 2, logger)
	tracker, err := progress.NewTracker(db, loader, reg, c, questSvc, challengeSvc, notifier,
		progress.Options{}, logger)
	require.NoError(t, err)

	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))

	eventH := apirest.NewEventHandler(tracker, logger)
	questH := apirest.NewQuestHandler(questSvc)
	challengeH := apirest.NewChallengeHandler(challengeSvc)
	charH := apirest.NewCharacterHandler(db, questSvc, challengeSvc)
	rewardH := apirest.NewRewardHandler(rewardSvc)

	api := r.Group("/api")
	auth := mw.Auth(sec, c)
	api.POST("/events", auth, eventH.Apply)
	api.POST("/events/batch", auth, eventH.ApplyBatch)
	api.POST("/quests", auth, questH.Start)
	api.GET("/quests/:id", auth, questH.Get)
	api.POST("/quests/:id/advance", auth, questH.Advance)
	api.POST("/quests/:id/complete", auth, questH.Complete)
	api.POST("/quests/:id/abandon", auth, questH.Abandon)
	api.POST("/quests/:id/fail", auth, questH.Fail)
	api.PUT("/quests/:id/flags/:key", auth, questH.SetFlag)
	api.PUT("/quests/:id/dialogue", auth, questH.SetDialogue)
	api.GET("/challenges/:id", auth, challengeH.Get)
	api.POST("/challenges/:id/reroll", auth, challengeH.Reroll)
	api.PUT("/characters/:id", auth, charH.Upsert)
	api.GET("/characters/:id", auth, charH.Get)
	api.GET("/characters/:id/quests", auth, charH.ListQuests)
	api.GET("/characters/:id/challenges", auth, charH.ListChallenges)
	api.GET("/characters/:id/dashboard", auth, charH.Dashboard)
	api.GET("/rewards/:instance_id", auth, rewardH.Get)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &TestServer{
		DB:         db,
		Cache:      c,
		PubSub:     pubsub,
		Clock:      clk,
		Loader:     loader,
		Quests:     questSvc,
		Challenges: challengeSvc,
		Rewards:    rewardSvc,
		Tracker:    tracker,
		Server:     server,
		URL:        server.URL,
		Sec:        sec,
	}
}

func writeTemplate(t *testing.T, dir, id string, tpl any) {
	t.Helper()
	raw, err := json.Marshal(tpl)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".json"), raw, 0o644))
}

// Token mints a service JWT accepted by the test server.
func (ts *TestServer) Token(t *testing.T, service string) string {
	t.Helper()
	tok, err := mw.GenerateToken(service, ts.Sec.JWTSecret, ts.Sec.JWTTTL)
	require.NoError(t, err)
	return tok
}

// Do issues an authenticated JSON request and decodes the response body.
func (ts *TestServer) Do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, reqBody)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	decoded := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp.StatusCode, decoded
}

// SeedCharacter inserts a character row directly.
func (ts *TestServer) SeedCharacter(t *testing.T, id int64, level int, gold int64) {
	t.Helper()
	err := ts.DB.Create(&model.Character{
		ID:         id,
		Name:       fmt.Sprintf("char-%d", id),
		Level:      level,
		Gold:       gold,
		FactionRep: datatypes.JSON([]byte("{}")),
	}).Error
	require.NoError(t, err)
}
