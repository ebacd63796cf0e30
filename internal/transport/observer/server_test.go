package observer

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multiblock.ai/internal/observerproto"
	"multiblock.ai/internal/sim/catalogs"
	"multiblock.ai/internal/sim/multiblock/tank"
	"multiblock.ai/internal/sim/tuning"
	"multiblock.ai/internal/sim/world"
)

var quiet = log.New(io.Discard, "", 0)

func startWorld(t *testing.T) (*world.World, *httptest.Server) {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	require.NoError(t, err)
	cfg := world.ConfigFromTuning("obs", tuning.Defaults())
	cfg.TickRateHz = 50
	cfg.SnapshotEveryTicks = 0
	k := tank.New(cfg.Tank, tank.WithTokenSource(func() int32 { return 99 }), tank.WithLogger(quiet))
	w, err := world.New(cfg, cats, world.WithLogger(quiet), world.WithKind(k))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	mux := http.NewServeMux()
	NewServer(w, quiet, Options{}).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	return w, srv
}

func submitTank(t *testing.T, w *world.World) {
	t.Helper()
	for x := 0; x < 3; x++ {
		for y := 0; y < 3; y++ {
			for z := 0; z < 3; z++ {
				if x == 1 && y == 1 && z == 1 {
					continue
				}
				block := "TANK_FRAME"
				if x == 0 && y == 0 && z == 0 {
					block = "TANK_VALVE"
				}
				require.NoError(t, w.SubmitEdit(context.Background(), world.PlaceBlock(world.Vec3i{X: x, Y: y, Z: z}, block)))
			}
		}
	}
}

func TestServer_ObserveStreamsBootstrapThenUpdates(t *testing.T) {
	w, srv := startWorld(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/observe"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var boot observerproto.BootstrapMsg
	require.NoError(t, conn.ReadJSON(&boot))
	assert.Equal(t, observerproto.TypeBootstrap, boot.Type)
	assert.NotEmpty(t, boot.SessionID)
	assert.Equal(t, "obs", boot.WorldID)
	assert.Empty(t, boot.Structures)

	submitTank(t, w)

	var update observerproto.StructureUpdateMsg
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var head struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(raw, &head))
		if head.Type != observerproto.TypeStructureUpdate {
			continue
		}
		require.NoError(t, json.Unmarshal(raw, &update))
		if update.Structure.State == "ASSEMBLED" {
			break
		}
	}
	assert.Equal(t, 26, update.Structure.Parts)
	assert.Equal(t, [3]int{2, 2, 2}, update.Structure.Max)
	assert.NotEmpty(t, update.Structure.Sync)
}

func TestServer_StructuresAndDescribe(t *testing.T) {
	w, srv := startWorld(t)
	submitTank(t, w)

	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/v1/structures")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var msg observerproto.BootstrapMsg
		if json.NewDecoder(resp.Body).Decode(&msg) != nil {
			return false
		}
		return len(msg.Structures) == 1 && msg.Structures[0].State == "ASSEMBLED"
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get(srv.URL + "/v1/describe?x=1&y=0&z=0")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "[ASSEMBLED]")
	assert.Contains(t, string(body), "R: 99")

	resp, err = http.Get(srv.URL + "/v1/describe?x=40&y=0&z=0")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/describe?x=1&y=zero")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/v1/structures", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestIsLoopbackRemote(t *testing.T) {
	assert.True(t, isLoopbackRemote("127.0.0.1:5555"))
	assert.True(t, isLoopbackRemote("[::1]:80"))
	assert.False(t, isLoopbackRemote("10.0.0.2:80"))
	assert.False(t, isLoopbackRemote("garbage"))
}
