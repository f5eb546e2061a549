package rag

const (
	chunkSize    = 1000
	chunkOverlap = 150
)

// ChunkText splits content into overlapping windows sized for retrieval.
// Windows advance by chunkSize-chunkOverlap runes so neighboring chunks
// share context across the boundary.
func ChunkText(content string) []string {
	runes := []rune(content)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= chunkSize {
		return []string{content}
	}
	step := chunkSize - chunkOverlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
