package model

// ChunkMetadata travels with every indexed chunk through the vector store
// and the BM25 index so search hits can be turned into citations without a
// repository round trip.
type ChunkMetadata struct {
	Filename   string `json:"filename"`
	ChunkIndex int    `json:"chunkIndex"`
	Heading    string `json:"heading,omitempty"`
	Hierarchy  string `json:"hierarchy,omitempty"`
	StartPage  int    `json:"startPage,omitempty"`
}

// Citation points an answer fragment back to its source chunk.
type Citation struct {
	ChunkID      string  `json:"chunkId"`
	DocumentID   string  `json:"documentId"`
	DocumentName string  `json:"documentName"`
	PageNumber   int     `json:"pageNumber"`
	Excerpt      string  `json:"excerpt"`
	Score        float64 `json:"score"`
}

// RetrievalResult is the assembled grounding for one query: the numbered
// context block fed to the model plus the citations backing it.
type RetrievalResult struct {
	Context   string     `json:"context"`
	Citations []Citation `json:"citations"`
}
