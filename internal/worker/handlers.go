package worker

import (
	"fmt"

	"github.com/annel0/blockworld/internal/mesh"
	"github.com/annel0/blockworld/internal/protocol"
	"github.com/annel0/blockworld/internal/vec"
	"github.com/annel0/blockworld/internal/world"
)

// Handler выполняет запрос внутри воркера
type Handler func(req protocol.Request) protocol.Response

// HandlerFor возвращает обработчик для типа воркера
func HandlerFor(kind Kind) Handler {
	if kind == Mesh {
		return HandleBuildMesh
	}
	return HandleGenerateChunk
}

// HandleGenerateChunk генерирует чанк тем же генератором, что и основной поток.
// Конфигурация не проверяется, как и в синхронном пути.
func HandleGenerateChunk(req protocol.Request) protocol.Response {
	r, ok := req.(protocol.GenerateChunk)
	if !ok {
		return unknownRequest(req, Generation)
	}

	chunk := world.GenerateChunk(r.Coords(), r.Seed, r.Config)
	return protocol.ChunkReady{ID: r.ID, Chunk: protocol.FromChunk(chunk)}
}

// HandleBuildMesh строит меш по копиям чанка и его соседей
func HandleBuildMesh(req protocol.Request) protocol.Response {
	r, ok := req.(protocol.BuildMesh)
	if !ok {
		return unknownRequest(req, Mesh)
	}

	chunk, err := r.Chunk.ToChunk()
	if err != nil {
		return meshError(r, err)
	}

	neighbors := make(map[vec.Vec3]*world.Chunk, len(r.Neighbors))
	for _, n := range r.Neighbors {
		c, err := n.ToChunk()
		if err != nil {
			return meshError(r, fmt.Errorf("сосед: %w", err))
		}
		neighbors[c.Coords] = c
	}

	data, err := mesh.Build(chunk, neighbors)
	if err != nil {
		return meshError(r, err)
	}
	return protocol.MeshReady{ID: r.ID, ChunkKey: chunk.Coords, Mesh: data}
}

func meshError(r protocol.BuildMesh, err error) protocol.Response {
	return protocol.Error{ID: r.ID, Kind: protocol.KindMesh, Message: err.Error(), Original: r}
}

func unknownRequest(req protocol.Request, kind Kind) protocol.Response {
	return protocol.Error{
		ID:       req.MessageID(),
		Kind:     protocol.KindUnknownRequest,
		Message:  fmt.Sprintf("воркер %s не обрабатывает %s", kind, req.Type()),
		Original: req,
	}
}
