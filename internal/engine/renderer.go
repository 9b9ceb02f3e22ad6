package engine

import (
	"sync"

	"github.com/annel0/blockworld/internal/mesh"
	"github.com/annel0/blockworld/internal/vec"
)

// Renderer внешний потребитель мешей. После успешной загрузки
// движок снимает с чанка флаг dirty.
type Renderer interface {
	UploadMesh(key vec.Vec3, data mesh.Data) error
}

// MemoryRenderer хранит последние загруженные меши в памяти.
// Используется в безголовом режиме и в тестах.
type MemoryRenderer struct {
	mu      sync.RWMutex
	meshes  map[vec.Vec3]mesh.Data
	uploads uint64
}

// NewMemoryRenderer создаёт пустой рендерер
func NewMemoryRenderer() *MemoryRenderer {
	return &MemoryRenderer{meshes: make(map[vec.Vec3]mesh.Data)}
}

// UploadMesh заменяет меш чанка; пустой меш удаляет запись
func (r *MemoryRenderer) UploadMesh(key vec.Vec3, data mesh.Data) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads++
	if data.Empty() {
		delete(r.meshes, key)
		return nil
	}
	r.meshes[key] = data
	return nil
}

// Mesh возвращает загруженный меш чанка
func (r *MemoryRenderer) Mesh(key vec.Vec3) (mesh.Data, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, ok := r.meshes[key]
	return data, ok
}

// Uploads возвращает общее число загрузок
func (r *MemoryRenderer) Uploads() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.uploads
}

// MeshCount возвращает число непустых мешей
func (r *MemoryRenderer) MeshCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.meshes)
}

// Reset удаляет все меши (при пересоздании мира)
func (r *MemoryRenderer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meshes = make(map[vec.Vec3]mesh.Data)
}
