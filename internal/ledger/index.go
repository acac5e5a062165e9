package ledger

import (
	"sync"

	"github.com/tidwall/btree"

	"github.com/vantagedata/datamarket/pkg/models"
)

// activeIndex keeps the active listings ordered by id so the browse surface
// never scans the listings table. It is updated only after a mutation has
// committed, so readers observe committed state exclusively.
type activeIndex struct {
	mu   sync.RWMutex
	tree *btree.Map[int64, models.Listing]
}

func newActiveIndex() *activeIndex {
	return &activeIndex{tree: new(btree.Map[int64, models.Listing])}
}

// Reset replaces the index contents, used on service start.
func (idx *activeIndex) Reset(listings []models.Listing) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.tree = new(btree.Map[int64, models.Listing])
	for _, l := range listings {
		idx.tree.Set(l.ID, l)
	}
}

// Upsert stores the committed state of an active listing.
func (idx *activeIndex) Upsert(l models.Listing) {
	if !l.Active {
		idx.Remove(l.ID)
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.tree.Set(l.ID, l)
}

// Remove drops a listing from the index.
func (idx *activeIndex) Remove(id int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.tree.Delete(id)
}

// Snapshot returns all active listings in ascending id order.
func (idx *activeIndex) Snapshot() []models.Listing {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]models.Listing, 0, idx.tree.Len())
	idx.tree.Scan(func(_ int64, l models.Listing) bool {
		out = append(out, l)
		return true
	})
	return out
}

// Len reports the number of active listings currently indexed.
func (idx *activeIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tree.Len()
}
