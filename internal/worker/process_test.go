package worker

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/annel0/blockworld/internal/protocol"
	"github.com/annel0/blockworld/internal/vec"
	"github.com/annel0/blockworld/internal/world"
	"github.com/annel0/blockworld/internal/world/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

type harness struct {
	codec     *protocol.Codec
	proc      *Process
	responses chan protocol.Message
	errors    chan error
}

func startHarness(t *testing.T, kind Kind, handler Handler) *harness {
	t.Helper()
	codec, err := protocol.NewCodec(true)
	require.NoError(t, err)

	h := &harness{
		codec:     codec,
		responses: make(chan protocol.Message, 8),
		errors:    make(chan error, 8),
	}
	h.proc = Start(kind, 1, codec, handler, Callbacks{
		OnMessage: func(frame []byte) {
			msg, err := codec.Decode(frame)
			if err != nil {
				h.errors <- err
				return
			}
			h.responses <- msg
		},
		OnError: func(err error) { h.errors <- err },
	})

	t.Cleanup(func() {
		h.proc.Terminate()
		codec.Close()
	})
	return h
}

func (h *harness) send(t *testing.T, msg protocol.Message) {
	t.Helper()
	frame, err := h.codec.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, h.proc.Post(frame))
}

func (h *harness) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case msg := <-h.responses:
		return msg
	case err := <-h.errors:
		t.Fatalf("неожиданная ошибка транспорта: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("воркер не ответил")
	}
	return nil
}

func TestGenerationWorkerMatchesInline(t *testing.T) {
	h := startHarness(t, Generation, HandlerFor(Generation))

	cfg := world.DefaultGenConfig()
	h.send(t, protocol.GenerateChunk{ID: "g1", ChunkX: 3, ChunkY: 2, ChunkZ: -4, Seed: 42, Config: cfg})

	resp := h.next(t)
	ready, ok := resp.(protocol.ChunkReady)
	require.True(t, ok, "ожидался CHUNK_READY, получен %T", resp)
	assert.Equal(t, "g1", ready.ID)

	got, err := ready.Chunk.ToChunk()
	require.NoError(t, err)
	want := world.GenerateChunk(vec.Vec3{X: 3, Y: 2, Z: -4}, 42, cfg)
	assert.Equal(t, want.Blocks, got.Blocks)
	assert.True(t, got.IsDirty())
}

func TestGenerationWorkerMatchesInlineOnUncheckedConfig(t *testing.T) {
	h := startHarness(t, Generation, HandlerFor(Generation))

	coords := vec.Vec3{X: 1, Y: 1, Z: -1}
	for i, cfg := range []world.GenConfig{
		{Flatness: math.NaN()},
		{Flatness: -0.5, TreeFrequency: 0.9},
		{Flatness: 0.3, Noise: world.NoiseKind(9)},
	} {
		id := fmt.Sprintf("cfg-%d", i)
		h.send(t, protocol.GenerateChunk{ID: id, ChunkX: coords.X, ChunkY: coords.Y, ChunkZ: coords.Z, Seed: 5, Config: cfg})

		ready, ok := h.next(t).(protocol.ChunkReady)
		require.True(t, ok, "конфиг %+v", cfg)
		assert.Equal(t, id, ready.ID)
		got, err := ready.Chunk.ToChunk()
		require.NoError(t, err)
		assert.Equal(t, world.GenerateChunk(coords, 5, cfg).Blocks, got.Blocks, "конфиг %+v", cfg)
	}
}

func TestWorkerRejectsForeignRequest(t *testing.T) {
	h := startHarness(t, Generation, HandlerFor(Generation))

	c := world.NewChunk(vec.Vec3{})
	h.send(t, protocol.BuildMesh{ID: "m", Chunk: protocol.FromChunk(c)})

	e, ok := h.next(t).(protocol.Error)
	require.True(t, ok)
	assert.Equal(t, protocol.KindUnknownRequest, e.Kind)
	assert.Equal(t, "m", e.ID)
	assert.Equal(t, protocol.MsgBuildMesh, e.Original.Type())
}

func TestWorkerRejectsResponseAsRequest(t *testing.T) {
	h := startHarness(t, Mesh, HandlerFor(Mesh))

	h.send(t, protocol.MeshReady{ID: "r"})

	e, ok := h.next(t).(protocol.Error)
	require.True(t, ok)
	assert.Equal(t, protocol.KindUnknownRequest, e.Kind)
	assert.Equal(t, "r", e.ID)
}

func TestWorkerUnknownTag(t *testing.T) {
	h := startHarness(t, Mesh, HandlerFor(Mesh))

	var body []byte
	body = protowire.AppendTag(body, 1, protowire.VarintType)
	body = protowire.AppendVarint(body, 77)
	body = protowire.AppendTag(body, 2, protowire.BytesType)
	body = protowire.AppendString(body, "weird")
	require.NoError(t, h.proc.Post(append([]byte{0}, body...)))

	e, ok := h.next(t).(protocol.Error)
	require.True(t, ok)
	assert.Equal(t, protocol.KindUnknownRequest, e.Kind)
	assert.Equal(t, "weird", e.ID)
}

func TestWorkerMalformedFrameIsTransportFault(t *testing.T) {
	h := startHarness(t, Mesh, HandlerFor(Mesh))

	require.NoError(t, h.proc.Post([]byte{0xFF}))

	select {
	case err := <-h.errors:
		assert.ErrorIs(t, err, protocol.ErrMalformedFrame)
	case <-time.After(5 * time.Second):
		t.Fatal("ошибка транспорта не получена")
	}

	// Воркер продолжает работать
	c := world.NewChunk(vec.Vec3{})
	h.send(t, protocol.BuildMesh{ID: "after", Chunk: protocol.FromChunk(c)})
	_, ok := h.next(t).(protocol.MeshReady)
	assert.True(t, ok)
}

func TestWorkerRecoversPanic(t *testing.T) {
	h := startHarness(t, Generation, func(req protocol.Request) protocol.Response {
		panic("сломался генератор")
	})

	h.send(t, protocol.GenerateChunk{ID: "p", Config: world.DefaultGenConfig()})

	e, ok := h.next(t).(protocol.Error)
	require.True(t, ok)
	assert.Equal(t, protocol.KindGeneration, e.Kind)
	assert.Contains(t, e.Message, "сломался генератор")

	// После паники воркер жив
	h.send(t, protocol.GenerateChunk{ID: "p2", Config: world.DefaultGenConfig()})
	_, ok = h.next(t).(protocol.Error)
	assert.True(t, ok)
}

func TestMeshWorkerBuildsMesh(t *testing.T) {
	h := startHarness(t, Mesh, HandlerFor(Mesh))

	c := world.NewChunk(vec.Vec3{X: 1, Y: 0, Z: 0})
	c.SetBlock(0, 0, 0, block.StoneBlockID)
	west := world.NewChunk(vec.Vec3{X: 0, Y: 0, Z: 0})
	west.SetBlock(15, 0, 0, block.StoneBlockID)

	h.send(t, protocol.BuildMesh{
		ID:        "mesh",
		Chunk:     protocol.FromChunk(c),
		Neighbors: []protocol.ChunkData{protocol.FromChunk(west)},
	})

	ready, ok := h.next(t).(protocol.MeshReady)
	require.True(t, ok)
	assert.Equal(t, c.Coords, ready.ChunkKey)
	// Западная грань скрыта соседом
	assert.Equal(t, 5, ready.Mesh.FaceCount())
}

func TestMeshWorkerUnknownBlock(t *testing.T) {
	h := startHarness(t, Mesh, HandlerFor(Mesh))

	data := protocol.FromChunk(world.NewChunk(vec.Vec3{}))
	data.Blocks[0] = 200
	h.send(t, protocol.BuildMesh{ID: "bad", Chunk: data})

	e, ok := h.next(t).(protocol.Error)
	require.True(t, ok)
	assert.Equal(t, protocol.KindMesh, e.Kind)
	assert.Equal(t, "bad", e.ID)
}

func TestTerminatedWorkerRejectsPost(t *testing.T) {
	h := startHarness(t, Generation, HandlerFor(Generation))
	h.proc.Terminate()
	h.proc.Terminate()

	assert.ErrorIs(t, h.proc.Post([]byte{0}), ErrTerminated)
}
