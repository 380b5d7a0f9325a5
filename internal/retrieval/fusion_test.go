package retrieval

import "testing"

func ids(list []candidate) []string {
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.ChunkID
	}
	return out
}

func asCandidates(chunkIDs ...string) []candidate {
	out := make([]candidate, len(chunkIDs))
	for i, id := range chunkIDs {
		out[i] = candidate{ChunkID: id, DocumentID: "doc", Content: "content " + id}
	}
	return out
}

func TestFuseRRF_MergesByReciprocalRank(t *testing.T) {
	dense := asCandidates("A", "B", "C")
	lexical := asCandidates("C", "A", "D")

	got := fuseRRF(10, dense, lexical)

	// A: 1/61+1/62, C: 1/63+1/61, B: 1/62, D: 1/63.
	want := []string{"A", "C", "B", "D"}
	gotIDs := ids(got)
	if len(gotIDs) != len(want) {
		t.Fatalf("got %v, want %v", gotIDs, want)
	}
	for i := range want {
		if gotIDs[i] != want[i] {
			t.Fatalf("got %v, want %v", gotIDs, want)
		}
	}

	wantTop := 1.0/61 + 1.0/62
	if diff := got[0].Score - wantTop; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("top score = %v, want %v", got[0].Score, wantTop)
	}
}

func TestFuseRRF_Commutative(t *testing.T) {
	dense := asCandidates("A", "B", "C")
	lexical := asCandidates("C", "A", "D")

	forward := ids(fuseRRF(10, dense, lexical))
	backward := ids(fuseRRF(10, lexical, dense))

	for i := range forward {
		if forward[i] != backward[i] {
			t.Fatalf("order depends on list order: %v vs %v", forward, backward)
		}
	}
}

func TestFuseRRF_SingleListKeepsOrder(t *testing.T) {
	dense := asCandidates("X", "Y", "Z")
	got := ids(fuseRRF(10, dense))
	for i, want := range []string{"X", "Y", "Z"} {
		if got[i] != want {
			t.Fatalf("got %v", got)
		}
	}
}

func TestFuseRRF_TruncatesToTopK(t *testing.T) {
	dense := asCandidates("A", "B", "C", "D", "E")
	if got := fuseRRF(2, dense); len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
}

func TestFuseRRF_Empty(t *testing.T) {
	if got := fuseRRF(5, nil, nil); len(got) != 0 {
		t.Fatalf("expected empty, got %v", ids(got))
	}
}
