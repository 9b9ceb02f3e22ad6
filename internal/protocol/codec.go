package protocol

import (
	"fmt"
	"math"

	"github.com/annel0/blockworld/internal/mesh"
	"github.com/annel0/blockworld/internal/vec"
	"github.com/annel0/blockworld/internal/world"
	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"
)

// Формат кадра: один байт флагов, затем тело в wire-формате protobuf.
// Тело сжимается zstd, если выставлен flagCompressed.
const (
	flagCompressed byte = 1 << 0

	// Меньшие тела не сжимаем: выигрыш не окупает заголовок zstd
	compressThreshold = 512
)

// Номера полей тела сообщения
const (
	fieldType          protowire.Number = 1
	fieldID            protowire.Number = 2
	fieldX             protowire.Number = 3
	fieldY             protowire.Number = 4
	fieldZ             protowire.Number = 5
	fieldSeed          protowire.Number = 6
	fieldFlatness      protowire.Number = 7
	fieldTreeFrequency protowire.Number = 8
	fieldNoise         protowire.Number = 9
	fieldChunk         protowire.Number = 10
	fieldNeighbor      protowire.Number = 11
	fieldVertices      protowire.Number = 13
	fieldNormals       protowire.Number = 14
	fieldUVs           protowire.Number = 15
	fieldIndices       protowire.Number = 16
	fieldErrorMessage  protowire.Number = 17
	fieldErrorKind     protowire.Number = 18
	fieldOriginal      protowire.Number = 19
)

// Номера полей вложенного чанка
const (
	chunkFieldX      protowire.Number = 1
	chunkFieldY      protowire.Number = 2
	chunkFieldZ      protowire.Number = 3
	chunkFieldBlocks protowire.Number = 4
	chunkFieldDirty  protowire.Number = 5
)

// Codec кодирует сообщения в кадры и обратно.
// Безопасен для одновременного использования из нескольких горутин.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec создаёт кодек. При compress=true крупные тела сжимаются zstd;
// декодировать сжатые кадры умеет любой кодек.
func NewCodec(compress bool) (*Codec, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("создание zstd декодера: %w", err)
	}
	c := &Codec{decoder: dec}
	if compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			dec.Close()
			return nil, fmt.Errorf("создание zstd энкодера: %w", err)
		}
		c.encoder = enc
	}
	return c, nil
}

// Close освобождает ресурсы zstd
func (c *Codec) Close() {
	if c.encoder != nil {
		_ = c.encoder.Close()
	}
	c.decoder.Close()
}

// Encode сериализует сообщение в кадр
func (c *Codec) Encode(msg Message) ([]byte, error) {
	body, err := appendMessage(nil, msg)
	if err != nil {
		return nil, err
	}

	if c.encoder != nil && len(body) >= compressThreshold {
		frame := make([]byte, 1, 1+len(body)/2)
		frame[0] = flagCompressed
		return c.encoder.EncodeAll(body, frame), nil
	}

	frame := make([]byte, 0, 1+len(body))
	frame = append(frame, 0)
	return append(frame, body...), nil
}

// Decode разбирает кадр. Ошибки имеют тип *FrameError и оборачивают
// ErrMalformedFrame или ErrUnknownMessage.
func (c *Codec) Decode(frame []byte) (Message, error) {
	if len(frame) == 0 {
		return nil, &FrameError{Err: fmt.Errorf("%w: пустой кадр", ErrMalformedFrame)}
	}

	flags, body := frame[0], frame[1:]
	if flags&^flagCompressed != 0 {
		return nil, &FrameError{Err: fmt.Errorf("%w: неизвестные флаги %#x", ErrMalformedFrame, flags)}
	}
	if flags&flagCompressed != 0 {
		var err error
		body, err = c.decoder.DecodeAll(body, nil)
		if err != nil {
			return nil, &FrameError{Err: fmt.Errorf("%w: zstd: %v", ErrMalformedFrame, err)}
		}
	}

	return decodeMessage(body)
}

func appendMessage(b []byte, msg Message) ([]byte, error) {
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.Type()))
	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	b = protowire.AppendString(b, msg.MessageID())

	switch m := msg.(type) {
	case GenerateChunk:
		b = appendCoords(b, m.Coords())
		b = appendSint(b, fieldSeed, m.Seed)
		b = appendFloat64(b, fieldFlatness, m.Config.Flatness)
		b = appendFloat64(b, fieldTreeFrequency, m.Config.TreeFrequency)
		b = protowire.AppendTag(b, fieldNoise, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Config.Noise))
	case BuildMesh:
		b = appendChunk(b, fieldChunk, m.Chunk)
		for _, n := range m.Neighbors {
			b = appendChunk(b, fieldNeighbor, n)
		}
	case ChunkReady:
		b = appendChunk(b, fieldChunk, m.Chunk)
	case MeshReady:
		b = appendCoords(b, m.ChunkKey)
		b = appendFloats(b, fieldVertices, m.Mesh.Vertices)
		b = appendFloats(b, fieldNormals, m.Mesh.Normals)
		b = appendFloats(b, fieldUVs, m.Mesh.UVs)
		b = appendIndices(b, fieldIndices, m.Mesh.Indices)
	case Error:
		b = protowire.AppendTag(b, fieldErrorKind, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Kind))
		b = protowire.AppendTag(b, fieldErrorMessage, protowire.BytesType)
		b = protowire.AppendString(b, m.Message)
		if m.Original != nil {
			inner, err := appendMessage(nil, m.Original)
			if err != nil {
				return nil, err
			}
			b = protowire.AppendTag(b, fieldOriginal, protowire.BytesType)
			b = protowire.AppendBytes(b, inner)
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
	return b, nil
}

func appendSint(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func appendCoords(b []byte, c vec.Vec3) []byte {
	b = appendSint(b, fieldX, int64(c.X))
	b = appendSint(b, fieldY, int64(c.Y))
	return appendSint(b, fieldZ, int64(c.Z))
}

func appendFloat64(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendFloats(b []byte, num protowire.Number, values []float32) []byte {
	if len(values) == 0 {
		return b
	}
	packed := make([]byte, 0, 4*len(values))
	for _, v := range values {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func appendIndices(b []byte, num protowire.Number, values []uint32) []byte {
	if len(values) == 0 {
		return b
	}
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func appendChunk(b []byte, num protowire.Number, c ChunkData) []byte {
	var inner []byte
	inner = appendSint(inner, chunkFieldX, int64(c.Position.X))
	inner = appendSint(inner, chunkFieldY, int64(c.Position.Y))
	inner = appendSint(inner, chunkFieldZ, int64(c.Position.Z))
	inner = protowire.AppendTag(inner, chunkFieldBlocks, protowire.BytesType)
	inner = protowire.AppendBytes(inner, c.Blocks)
	inner = protowire.AppendTag(inner, chunkFieldDirty, protowire.VarintType)
	inner = protowire.AppendVarint(inner, protowire.EncodeBool(c.IsDirty))

	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

// rawMessage поля тела до сборки конкретного типа
type rawMessage struct {
	typ       MsgType
	id        string
	x, y, z   int64
	seed      int64
	flatness  float64
	treeFreq  float64
	noise     uint64
	chunk     *ChunkData
	neighbors []ChunkData
	vertices  []float32
	normals   []float32
	uvs       []float32
	indices   []uint32
	errKind   ErrorKind
	errMsg    string
	original  []byte
}

func decodeMessage(b []byte) (Message, error) {
	raw, err := parseFields(b)
	if err != nil {
		return nil, &FrameError{ID: raw.id, Type: raw.typ, Err: err}
	}

	switch raw.typ {
	case MsgGenerateChunk:
		return GenerateChunk{
			ID:     raw.id,
			ChunkX: int(raw.x),
			ChunkY: int(raw.y),
			ChunkZ: int(raw.z),
			Seed:   raw.seed,
			Config: world.GenConfig{
				Flatness:      raw.flatness,
				TreeFrequency: raw.treeFreq,
				Noise:         world.NoiseKind(raw.noise),
			},
		}, nil
	case MsgBuildMesh:
		if raw.chunk == nil {
			return nil, missingField(raw, "chunk")
		}
		return BuildMesh{ID: raw.id, Chunk: *raw.chunk, Neighbors: raw.neighbors}, nil
	case MsgChunkReady:
		if raw.chunk == nil {
			return nil, missingField(raw, "chunk")
		}
		return ChunkReady{ID: raw.id, Chunk: *raw.chunk}, nil
	case MsgMeshReady:
		return MeshReady{
			ID:       raw.id,
			ChunkKey: vec.Vec3{X: int(raw.x), Y: int(raw.y), Z: int(raw.z)},
			Mesh: mesh.Data{
				Vertices: raw.vertices,
				Normals:  raw.normals,
				UVs:      raw.uvs,
				Indices:  raw.indices,
			},
		}, nil
	case MsgError:
		msg := Error{ID: raw.id, Kind: raw.errKind, Message: raw.errMsg}
		if len(raw.original) > 0 {
			inner, err := decodeMessage(raw.original)
			if err != nil {
				return nil, &FrameError{ID: raw.id, Type: raw.typ, Err: fmt.Errorf("%w: исходный запрос: %v", ErrMalformedFrame, err)}
			}
			req, ok := inner.(Request)
			if !ok {
				return nil, &FrameError{ID: raw.id, Type: raw.typ, Err: fmt.Errorf("%w: исходное сообщение %s не запрос", ErrMalformedFrame, inner.Type())}
			}
			msg.Original = req
		}
		return msg, nil
	default:
		return nil, &FrameError{ID: raw.id, Type: raw.typ, Err: ErrUnknownMessage}
	}
}

func missingField(raw rawMessage, name string) error {
	return &FrameError{ID: raw.id, Type: raw.typ, Err: fmt.Errorf("%w: нет поля %s", ErrMalformedFrame, name)}
}

func parseFields(b []byte) (rawMessage, error) {
	var raw rawMessage
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return raw, malformed(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldType && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			raw.typ = MsgType(v)
		case num == fieldID && typ == protowire.BytesType:
			var v string
			v, n = protowire.ConsumeString(b)
			raw.id = v
		case (num == fieldX || num == fieldY || num == fieldZ || num == fieldSeed) && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			s := protowire.DecodeZigZag(v)
			switch num {
			case fieldX:
				raw.x = s
			case fieldY:
				raw.y = s
			case fieldZ:
				raw.z = s
			default:
				raw.seed = s
			}
		case (num == fieldFlatness || num == fieldTreeFrequency) && typ == protowire.Fixed64Type:
			var v uint64
			v, n = protowire.ConsumeFixed64(b)
			if num == fieldFlatness {
				raw.flatness = math.Float64frombits(v)
			} else {
				raw.treeFreq = math.Float64frombits(v)
			}
		case num == fieldNoise && typ == protowire.VarintType:
			raw.noise, n = protowire.ConsumeVarint(b)
		case num == fieldErrorKind && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			raw.errKind = ErrorKind(v)
		case num == fieldErrorMessage && typ == protowire.BytesType:
			raw.errMsg, n = protowire.ConsumeString(b)
		case typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			if n < 0 {
				break
			}
			if err := raw.setBytesField(num, v); err != nil {
				return raw, err
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}

		if n < 0 {
			return raw, malformed(protowire.ParseError(n))
		}
		b = b[n:]
	}
	return raw, nil
}

func (raw *rawMessage) setBytesField(num protowire.Number, v []byte) error {
	var err error
	switch num {
	case fieldChunk:
		var c ChunkData
		if c, err = parseChunk(v); err == nil {
			raw.chunk = &c
		}
	case fieldNeighbor:
		var c ChunkData
		if c, err = parseChunk(v); err == nil {
			raw.neighbors = append(raw.neighbors, c)
		}
	case fieldVertices:
		raw.vertices, err = parseFloats(v)
	case fieldNormals:
		raw.normals, err = parseFloats(v)
	case fieldUVs:
		raw.uvs, err = parseFloats(v)
	case fieldIndices:
		raw.indices, err = parseIndices(v)
	case fieldOriginal:
		raw.original = v
	}
	return err
}

func parseChunk(b []byte) (ChunkData, error) {
	var c ChunkData
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return c, malformed(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num >= chunkFieldX && num <= chunkFieldZ && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			s := int(protowire.DecodeZigZag(v))
			switch num {
			case chunkFieldX:
				c.Position.X = s
			case chunkFieldY:
				c.Position.Y = s
			default:
				c.Position.Z = s
			}
		case num == chunkFieldBlocks && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			c.Blocks = append([]byte(nil), v...)
		case num == chunkFieldDirty && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			c.IsDirty = protowire.DecodeBool(v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}

		if n < 0 {
			return c, malformed(protowire.ParseError(n))
		}
		b = b[n:]
	}

	if len(c.Blocks) != world.ChunkVolume {
		return c, fmt.Errorf("%w: чанк %v содержит %d блоков", ErrMalformedFrame, c.Position, len(c.Blocks))
	}
	return c, nil
}

func parseFloats(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: длина упакованных float %d не кратна 4", ErrMalformedFrame, len(b))
	}
	out := make([]float32, 0, len(b)/4)
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, malformed(protowire.ParseError(n))
		}
		out = append(out, math.Float32frombits(v))
		b = b[n:]
	}
	return out, nil
}

func parseIndices(b []byte) ([]uint32, error) {
	var out []uint32
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, malformed(protowire.ParseError(n))
		}
		if v > math.MaxUint32 {
			return nil, fmt.Errorf("%w: индекс %d вне диапазона", ErrMalformedFrame, v)
		}
		out = append(out, uint32(v))
		b = b[n:]
	}
	return out, nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
}
