package chunking

// Splitter cuts file bytes into fixed-size upload chunks. The last chunk may
// be short; Total is what receivers validate chunk indexes against.
type Splitter struct {
	ChunkSize int64
}

func NewSplitter(chunkSize int64) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 4 << 20
	}
	return &Splitter{ChunkSize: chunkSize}
}

func (s *Splitter) Total(size int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + s.ChunkSize - 1) / s.ChunkSize)
}

// Split returns the chunk payloads in index order. Slices alias the input;
// callers that mutate data must copy first.
func (s *Splitter) Split(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	total := s.Total(int64(len(data)))
	out := make([][]byte, 0, total)
	for start := int64(0); start < int64(len(data)); start += s.ChunkSize {
		end := start + s.ChunkSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		out = append(out, data[start:end])
	}
	return out
}
